package repository

import (
	"context"
	"database/sql"

	"papertrade/internal/models"
)

// TradeRepository - работа с таблицей trades (только добавление)
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Insert добавляет сделку
// Повторная запись с тем же trade_id игнорируется; inserted = false.
func (r *TradeRepository) Insert(ctx context.Context, t models.Trade) (inserted bool, err error) {
	query := `
		INSERT INTO trades (trade_id, session_id, position_id, symbol, side, action, size, price, slippage, latency_ms, pnl, reason, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (trade_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		t.TradeID,
		t.SessionID,
		t.PositionID,
		t.Symbol,
		t.Side,
		t.Action,
		t.Size,
		t.Price,
		t.Slippage,
		t.LatencyMs,
		t.Pnl,
		t.Reason,
		t.ExecutedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetBySession возвращает сделки сессии в порядке исполнения
func (r *TradeRepository) GetBySession(ctx context.Context, sessionID string) ([]*models.Trade, error) {
	query := `
		SELECT trade_id, session_id, position_id, symbol, side, action, size, price, slippage, latency_ms, pnl, reason, executed_at
		FROM trades
		WHERE session_id = $1
		ORDER BY executed_at ASC`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		t := &models.Trade{}
		if err := rows.Scan(
			&t.TradeID,
			&t.SessionID,
			&t.PositionID,
			&t.Symbol,
			&t.Side,
			&t.Action,
			&t.Size,
			&t.Price,
			&t.Slippage,
			&t.LatencyMs,
			&t.Pnl,
			&t.Reason,
			&t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}
