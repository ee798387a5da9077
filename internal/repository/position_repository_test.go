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
// PositionRepository Tests
// ============================================================

var positionRowColumns = []string{
	"id", "session_id", "symbol", "side", "size", "entry_price", "current_price", "stop_loss", "take_profit",
	"status", "unrealized_pnl", "realized_pnl", "close_price", "close_reason", "opened_at", "closed_at",
}

func TestPositionRepositoryUpsert(t *testing.T) {
	opened := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	closed := opened.Add(time.Hour)

	tests := []struct {
		name        string
		pos         models.Position
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
	}{
		{
			name: "open position",
			pos: models.Position{
				ID: "p-1", SessionID: "s-1", Symbol: "XBTUSDTM", Side: models.SideLong, Size: 0.5,
				EntryPrice: 50000, CurrentPrice: 50010, StopLoss: 49000, TakeProfit: 52000,
				Status: models.PositionStatusOpen, UnrealizedPnl: 5, OpenedAt: opened,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO positions .+ ON CONFLICT \(id\) DO UPDATE .+ WHERE positions.status <> 'closed'`).
					WithArgs("p-1", "s-1", "XBTUSDTM", "long", 0.5, 50000.0, 50010.0, 49000.0, 52000.0,
						"open", 5.0, 0.0, 0.0, "", opened, (*time.Time)(nil)).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "closed position",
			pos: models.Position{
				ID: "p-1", SessionID: "s-1", Symbol: "XBTUSDTM", Side: models.SideShort, Size: 1,
				EntryPrice: 100, CurrentPrice: 97, Status: models.PositionStatusClosed,
				RealizedPnl: 3, ClosePrice: 97, CloseReason: models.CloseReasonTakeProfit,
				OpenedAt: opened, ClosedAt: &closed,
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO positions`).
					WithArgs("p-1", "s-1", "XBTUSDTM", "short", 1.0, 100.0, 97.0, 0.0, 0.0,
						"closed", 0.0, 3.0, 97.0, "take_profit", opened, &closed).
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "database error",
			pos:  models.Position{ID: "p-1"},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(`INSERT INTO positions`).
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

			repo := NewPositionRepository(db)
			err = repo.Upsert(context.Background(), tt.pos)

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

func TestPositionRepositoryGetByID(t *testing.T) {
	opened := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(positionRowColumns).
		AddRow("p-1", "s-1", "XBTUSDTM", "long", 0.5, 50000.0, 50010.0, 49000.0, 52000.0, "open", 5.0, 0.0, 0.0, "", opened, nil)
	mock.ExpectQuery(`SELECT .+ FROM positions WHERE id = \$1`).WithArgs("p-1").WillReturnRows(rows)
	mock.ExpectQuery(`SELECT .+ FROM positions WHERE id = \$1`).WithArgs("p-2").WillReturnError(sql.ErrNoRows)

	repo := NewPositionRepository(db)
	p, err := repo.GetByID(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.IsOpen() || p.ClosedAt != nil {
		t.Errorf("unexpected position: %+v", p)
	}

	if _, err := repo.GetByID(context.Background(), "p-2"); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPositionRepositoryGetBySession(t *testing.T) {
	opened := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	closed := opened.Add(time.Hour)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(positionRowColumns).
		AddRow("p-1", "s-1", "XBTUSDTM", "long", 0.5, 50000.0, 49000.0, 49000.0, 52000.0, "closed", 0.0, -500.0, 49000.0, "stop_loss", opened, closed).
		AddRow("p-2", "s-1", "XBTUSDTM", "short", 1.0, 49000.0, 49000.0, 49980.0, 47040.0, "open", 0.0, 0.0, 0.0, "", closed, nil)
	mock.ExpectQuery(`SELECT .+ FROM positions WHERE session_id = \$1 ORDER BY opened_at ASC`).
		WithArgs("s-1").
		WillReturnRows(rows)

	repo := NewPositionRepository(db)
	positions, err := repo.GetBySession(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(positions))
	}
	if positions[0].CloseReason != models.CloseReasonStopLoss || positions[0].ClosedAt == nil {
		t.Errorf("unexpected first position: %+v", positions[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
