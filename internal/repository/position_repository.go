package repository

import (
	"context"
	"database/sql"
	"errors"

	"papertrade/internal/models"
)

// Ошибки репозитория позиций
var (
	ErrPositionNotFound = errors.New("position not found")
)

// PositionRepository - снимки позиций в таблице positions
type PositionRepository struct {
	db *sql.DB
}

// NewPositionRepository создает новый экземпляр репозитория
func NewPositionRepository(db *sql.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `id, session_id, symbol, side, size, entry_price, current_price, stop_loss, take_profit,
		status, unrealized_pnl, realized_pnl, close_price, close_reason, opened_at, closed_at`

// Upsert сохраняет последний снимок позиции
// Закрытая позиция не перезаписывается более старым открытым снимком.
func (r *PositionRepository) Upsert(ctx context.Context, p models.Position) error {
	query := `
		INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			status = EXCLUDED.status,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			realized_pnl = EXCLUDED.realized_pnl,
			close_price = EXCLUDED.close_price,
			close_reason = EXCLUDED.close_reason,
			closed_at = EXCLUDED.closed_at
		WHERE positions.status <> 'closed'`

	_, err := r.db.ExecContext(ctx, query,
		p.ID,
		p.SessionID,
		p.Symbol,
		p.Side,
		p.Size,
		p.EntryPrice,
		p.CurrentPrice,
		p.StopLoss,
		p.TakeProfit,
		p.Status,
		p.UnrealizedPnl,
		p.RealizedPnl,
		p.ClosePrice,
		p.CloseReason,
		p.OpenedAt,
		p.ClosedAt,
	)
	return err
}

func scanPosition(row rowScanner) (*models.Position, error) {
	p := &models.Position{}
	err := row.Scan(
		&p.ID,
		&p.SessionID,
		&p.Symbol,
		&p.Side,
		&p.Size,
		&p.EntryPrice,
		&p.CurrentPrice,
		&p.StopLoss,
		&p.TakeProfit,
		&p.Status,
		&p.UnrealizedPnl,
		&p.RealizedPnl,
		&p.ClosePrice,
		&p.CloseReason,
		&p.OpenedAt,
		&p.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetByID возвращает позицию по ID
func (r *PositionRepository) GetByID(ctx context.Context, id string) (*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = $1`

	p, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return p, nil
}

// GetBySession возвращает позиции сессии в порядке открытия
func (r *PositionRepository) GetBySession(ctx context.Context, sessionID string) ([]*models.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE session_id = $1 ORDER BY opened_at ASC`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []*models.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return positions, nil
}
