package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"papertrade/internal/models"
)

// ============================================================
// TickRepository Tests
// ============================================================

var tickColumns = []string{"symbol", "event_time", "last_price", "mark_price", "index_price", "best_bid", "best_ask", "funding_rate", "open_interest", "volume_24h"}

func TestNewTickRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewTickRepository(db)
	if repo == nil {
		t.Fatal("NewTickRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestTickRepositoryUpsert(t *testing.T) {
	eventTime := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		tick        models.Tick
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "success",
			tick: models.Tick{Symbol: "XBTUSDTM", LastPrice: 50000, MarkPrice: 50001, BestBid: 49999, BestAsk: 50002, EventTime: eventTime},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO ticks .+ ON CONFLICT \(symbol, event_time\) DO UPDATE`).
					WithArgs("XBTUSDTM", eventTime, 50000.0, 50001.0, 0.0, 49999.0, 50002.0, 0.0, 0.0, 0.0).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "zero event time replaced",
			tick: models.Tick{Symbol: "XBTUSDTM", LastPrice: 1},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO ticks`).
					WithArgs("XBTUSDTM", sqlmock.AnyArg(), 1.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "database error",
			tick: models.Tick{Symbol: "XBTUSDTM", EventTime: eventTime},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO ticks`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewTickRepository(db)
			err = repo.Upsert(context.Background(), tt.tick)

			if tt.expectError && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestTickRepositoryLatest(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectPrice float64
		expectError error
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows(tickColumns).
					AddRow("XBTUSDTM", now, 50000.0, 50001.0, 50000.5, 49999.0, 50002.0, 0.0001, 1e6, 2e9)
				mock.ExpectQuery(`SELECT .+ FROM ticks WHERE symbol = \$1 ORDER BY event_time DESC LIMIT 1`).
					WithArgs("XBTUSDTM").
					WillReturnRows(rows)
			},
			expectPrice: 50000,
		},
		{
			name: "not found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM ticks`).
					WithArgs("XBTUSDTM").
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrTickNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			repo := NewTickRepository(db)
			tick, err := repo.Latest(context.Background(), "XBTUSDTM")

			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if tick.LastPrice != tt.expectPrice {
					t.Errorf("expected LastPrice %v, got %v", tt.expectPrice, tick.LastPrice)
				}
				if !tick.EventTime.Equal(now) {
					t.Errorf("expected EventTime %v, got %v", now, tick.EventTime)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestTickRepositoryRange(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	from := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	rows := sqlmock.NewRows(tickColumns).
		AddRow("XBTUSDTM", from.Add(time.Minute), 1.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0).
		AddRow("XBTUSDTM", from.Add(2*time.Minute), 2.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0, 0.0)
	mock.ExpectQuery(`SELECT .+ FROM ticks WHERE symbol = \$1 AND event_time >= \$2 AND event_time < \$3`).
		WithArgs("XBTUSDTM", from, to, 100).
		WillReturnRows(rows)

	repo := NewTickRepository(db)
	ticks, err := repo.Range(context.Background(), "XBTUSDTM", from, to, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(ticks))
	}
	if ticks[1].LastPrice != 2 {
		t.Errorf("expected ascending order, got %v", ticks[1].LastPrice)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTickRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	before := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM ticks WHERE event_time < \$1`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 42))

	repo := NewTickRepository(db)
	n, err := repo.DeleteOlderThan(context.Background(), before)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("expected 42 rows, got %d", n)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
