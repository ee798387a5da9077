//go:build integration

// Интеграционные тесты репозиториев на живом PostgreSQL.
//
// Запуск: go test -tags=integration ./internal/repository/...
// Параметры подключения берутся из TEST_DB_* (см. testDSN).
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"papertrade/internal/models"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func testDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		getEnv("TEST_DB_HOST", "localhost"),
		getEnv("TEST_DB_PORT", "5432"),
		getEnv("TEST_DB_USER", "postgres"),
		getEnv("TEST_DB_PASSWORD", "postgres"),
		getEnv("TEST_DB_NAME", "papertrade_test"),
		getEnv("TEST_DB_SSLMODE", "disable"),
	)
}

// setupTestDB подключается и накатывает схему; без базы тест пропускается
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("postgres", testDSN())
	if err != nil {
		t.Skipf("Skipping integration test: cannot open database: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("Skipping integration test: cannot ping database: %v", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)

	if err := Migrate(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("Migrate failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIntegration_MigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	for _, table := range []string{"ticks", "sessions", "positions", "trades"} {
		t.Run(table, func(t *testing.T) {
			var exists bool
			err := db.QueryRow(`
				SELECT EXISTS (
					SELECT FROM information_schema.tables
					WHERE table_name = $1
				)`, table).Scan(&exists)
			if err != nil {
				t.Fatalf("failed to check table existence: %v", err)
			}
			if !exists {
				t.Errorf("table %s does not exist", table)
			}
		})
	}
}

func TestIntegration_SessionPositionTradeCycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	sessions := NewSessionRepository(db)
	positions := NewPositionRepository(db)
	trades := NewTradeRepository(db)

	now := time.Now().UTC().Truncate(time.Millisecond)
	session := models.Session{
		ID:             uuid.NewString(),
		Name:           "integration",
		Symbols:        []string{"XBTUSDTM"},
		InitialCapital: 10000,
		CurrentValue:   10000,
		Risk:           models.DefaultRiskParameters(),
		Status:         models.SessionStatusRunning,
		CreatedAt:      now,
		StartedAt:      &now,
	}
	if err := sessions.Upsert(ctx, session); err != nil {
		t.Fatalf("session Upsert: %v", err)
	}

	pos := models.Position{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Symbol:     "XBTUSDTM",
		Side:       models.SideLong,
		Size:       0.01,
		EntryPrice: 50000,
		Status:     models.PositionStatusOpen,
		OpenedAt:   now,
	}
	if err := positions.Upsert(ctx, pos); err != nil {
		t.Fatalf("position Upsert: %v", err)
	}

	// Закрытие перезаписывает ту же строку
	closedAt := now.Add(time.Minute)
	pos.Status = models.PositionStatusClosed
	pos.ClosePrice = 51000
	pos.RealizedPnl = 10
	pos.CloseReason = models.CloseReasonTakeProfit
	pos.ClosedAt = &closedAt
	if err := positions.Upsert(ctx, pos); err != nil {
		t.Fatalf("position re-Upsert: %v", err)
	}

	got, err := positions.GetByID(ctx, pos.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != models.PositionStatusClosed || got.ClosePrice != 51000 || got.ClosedAt == nil {
		t.Errorf("position not updated: %+v", got)
	}

	trade := models.Trade{
		TradeID:    uuid.NewString(),
		SessionID:  session.ID,
		PositionID: pos.ID,
		Symbol:     "XBTUSDTM",
		Side:       models.OrderSideSell,
		Action:     models.TradeActionClose,
		Size:       0.01,
		Price:      51000,
		Pnl:        10,
		ExecutedAt: closedAt,
	}
	inserted, err := trades.Insert(ctx, trade)
	if err != nil || !inserted {
		t.Fatalf("trade Insert = %v, %v", inserted, err)
	}
	inserted, err = trades.Insert(ctx, trade)
	if err != nil || inserted {
		t.Errorf("duplicate trade Insert = %v, %v; want false, nil", inserted, err)
	}

	list, err := trades.GetBySession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetBySession: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("trades = %d, want 1", len(list))
	}

	loaded, err := sessions.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("session GetByID: %v", err)
	}
	if len(loaded.Symbols) != 1 || loaded.Risk != session.Risk {
		t.Errorf("session round trip mismatch: %+v", loaded)
	}
}

func TestIntegration_TickRetention(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	ticks := NewTickRepository(db)

	symbol := "IT" + uuid.NewString()[:8]
	old := time.Now().UTC().Add(-48 * time.Hour)
	fresh := time.Now().UTC()

	for _, ts := range []time.Time{old, fresh} {
		if err := ticks.Upsert(ctx, models.Tick{Symbol: symbol, LastPrice: 100, EventTime: ts}); err != nil {
			t.Fatalf("tick Upsert: %v", err)
		}
	}

	if _, err := ticks.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour)); err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}

	rows, err := ticks.Range(ctx, symbol, old.Add(-time.Hour), fresh.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("ticks after prune = %d, want 1", len(rows))
	}
}

func TestIntegration_ConcurrentTradeInserts(t *testing.T) {
	db := setupTestDB(t)
	trades := NewTradeRepository(db)
	sessionID := uuid.NewString()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := trades.Insert(context.Background(), models.Trade{
				TradeID:    uuid.NewString(),
				SessionID:  sessionID,
				PositionID: uuid.NewString(),
				Symbol:     "XBTUSDTM",
				Side:       models.OrderSideBuy,
				Action:     models.TradeActionOpen,
				Size:       1,
				Price:      100,
				ExecutedAt: time.Now().UTC(),
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Insert: %v", err)
		}
	}

	list, err := trades.GetBySession(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("GetBySession: %v", err)
	}
	if len(list) != 20 {
		t.Errorf("trades = %d, want 20", len(list))
	}
}
