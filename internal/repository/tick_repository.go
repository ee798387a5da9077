package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"papertrade/internal/models"
)

// Ошибки репозитория тиков
var (
	ErrTickNotFound = errors.New("tick not found")
)

// TickRepository - работа с таблицей ticks
type TickRepository struct {
	db *sql.DB
}

// NewTickRepository создает новый экземпляр репозитория
func NewTickRepository(db *sql.DB) *TickRepository {
	return &TickRepository{db: db}
}

// Upsert сохраняет тик; ключ (symbol, event_time)
func (r *TickRepository) Upsert(ctx context.Context, t models.Tick) error {
	query := `
		INSERT INTO ticks (symbol, event_time, last_price, mark_price, index_price, best_bid, best_ask, funding_rate, open_interest, volume_24h)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (symbol, event_time) DO UPDATE SET
			last_price = EXCLUDED.last_price,
			mark_price = EXCLUDED.mark_price,
			index_price = EXCLUDED.index_price,
			best_bid = EXCLUDED.best_bid,
			best_ask = EXCLUDED.best_ask,
			funding_rate = EXCLUDED.funding_rate,
			open_interest = EXCLUDED.open_interest,
			volume_24h = EXCLUDED.volume_24h`

	eventTime := t.EventTime
	if eventTime.IsZero() {
		eventTime = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		t.Symbol,
		eventTime,
		t.LastPrice,
		t.MarkPrice,
		t.IndexPrice,
		t.BestBid,
		t.BestAsk,
		t.FundingRate,
		t.OpenInterest,
		t.Volume24h,
	)
	return err
}

// Latest возвращает последний сохранённый тик символа
func (r *TickRepository) Latest(ctx context.Context, symbol string) (*models.Tick, error) {
	query := `
		SELECT symbol, event_time, last_price, mark_price, index_price, best_bid, best_ask, funding_rate, open_interest, volume_24h
		FROM ticks
		WHERE symbol = $1
		ORDER BY event_time DESC
		LIMIT 1`

	t := &models.Tick{}
	err := r.db.QueryRowContext(ctx, query, symbol).Scan(
		&t.Symbol,
		&t.EventTime,
		&t.LastPrice,
		&t.MarkPrice,
		&t.IndexPrice,
		&t.BestBid,
		&t.BestAsk,
		&t.FundingRate,
		&t.OpenInterest,
		&t.Volume24h,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTickNotFound
		}
		return nil, err
	}
	return t, nil
}

// Range возвращает тики символа за период, по возрастанию времени
func (r *TickRepository) Range(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.Tick, error) {
	query := `
		SELECT symbol, event_time, last_price, mark_price, index_price, best_bid, best_ask, funding_rate, open_interest, volume_24h
		FROM ticks
		WHERE symbol = $1 AND event_time >= $2 AND event_time < $3
		ORDER BY event_time ASC
		LIMIT $4`

	rows, err := r.db.QueryContext(ctx, query, symbol, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []*models.Tick
	for rows.Next() {
		t := &models.Tick{}
		if err := rows.Scan(
			&t.Symbol,
			&t.EventTime,
			&t.LastPrice,
			&t.MarkPrice,
			&t.IndexPrice,
			&t.BestBid,
			&t.BestAsk,
			&t.FundingRate,
			&t.OpenInterest,
			&t.Volume24h,
		); err != nil {
			return nil, err
		}
		ticks = append(ticks, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return ticks, nil
}

// DeleteOlderThan удаляет тики старше before; возвращает число удалённых строк
func (r *TickRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ticks WHERE event_time < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
