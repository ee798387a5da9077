package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"papertrade/internal/models"
)

// Ошибки репозитория сессий
var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionRepository - снимки сессий в таблице sessions
type SessionRepository struct {
	db *sql.DB
}

// NewSessionRepository создает новый экземпляр репозитория
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `id, name, symbols, timeframe, initial_capital, current_value, realized_pnl, unrealized_pnl,
		max_position_size, stop_loss_percent, take_profit_percent, risk_per_trade, daily_loss_limit,
		status, created_at, started_at, stopped_at`

// Upsert сохраняет последний снимок сессии
func (r *SessionRepository) Upsert(ctx context.Context, s models.Session) error {
	query := `
		INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			symbols = EXCLUDED.symbols,
			current_value = EXCLUDED.current_value,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			max_position_size = EXCLUDED.max_position_size,
			stop_loss_percent = EXCLUDED.stop_loss_percent,
			take_profit_percent = EXCLUDED.take_profit_percent,
			risk_per_trade = EXCLUDED.risk_per_trade,
			daily_loss_limit = EXCLUDED.daily_loss_limit,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			stopped_at = EXCLUDED.stopped_at`

	_, err := r.db.ExecContext(ctx, query,
		s.ID,
		s.Name,
		pq.Array(s.Symbols),
		s.Timeframe,
		s.InitialCapital,
		s.CurrentValue,
		s.RealizedPnl,
		s.UnrealizedPnl,
		s.Risk.MaxPositionSize,
		s.Risk.StopLossPercent,
		s.Risk.TakeProfitPercent,
		s.Risk.RiskPerTrade,
		s.Risk.DailyLossLimit,
		s.Status,
		s.CreatedAt,
		s.StartedAt,
		s.StoppedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	s := &models.Session{}
	var symbols pq.StringArray
	err := row.Scan(
		&s.ID,
		&s.Name,
		&symbols,
		&s.Timeframe,
		&s.InitialCapital,
		&s.CurrentValue,
		&s.RealizedPnl,
		&s.UnrealizedPnl,
		&s.Risk.MaxPositionSize,
		&s.Risk.StopLossPercent,
		&s.Risk.TakeProfitPercent,
		&s.Risk.RiskPerTrade,
		&s.Risk.DailyLossLimit,
		&s.Status,
		&s.CreatedAt,
		&s.StartedAt,
		&s.StoppedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Symbols = []string(symbols)
	return s, nil
}

// GetByID возвращает сессию по ID
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	s, err := scanSession(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return s, nil
}

// List возвращает сессии в порядке создания
func (r *SessionRepository) List(ctx context.Context) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
