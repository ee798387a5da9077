package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"papertrade/internal/models"
	"papertrade/internal/repository"
	"papertrade/pkg/utils"
)

// Узкие интерфейсы репозиториев, чтобы приёмник тестировался без БД

type tickStore interface {
	Upsert(ctx context.Context, t models.Tick) error
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

type tradeStore interface {
	Insert(ctx context.Context, t models.Trade) (bool, error)
}

type sessionStore interface {
	Upsert(ctx context.Context, s models.Session) error
}

type positionStore interface {
	Upsert(ctx context.Context, p models.Position) error
}

// PostgresSink пишет записи в PostgreSQL через репозитории
type PostgresSink struct {
	ticks     tickStore
	trades    tradeStore
	sessions  sessionStore
	positions positionStore
	log       *utils.Logger
}

// NewPostgresSink создаёт приёмник поверх открытого соединения
func NewPostgresSink(db *sql.DB, log *utils.Logger) *PostgresSink {
	return newPostgresSink(
		repository.NewTickRepository(db),
		repository.NewTradeRepository(db),
		repository.NewSessionRepository(db),
		repository.NewPositionRepository(db),
		log,
	)
}

func newPostgresSink(ticks tickStore, trades tradeStore, sessions sessionStore, positions positionStore, log *utils.Logger) *PostgresSink {
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &PostgresSink{
		ticks:     ticks,
		trades:    trades,
		sessions:  sessions,
		positions: positions,
		log:       log.WithComponent("postgres-sink"),
	}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) WriteTick(ctx context.Context, tick models.Tick) error {
	if err := s.ticks.Upsert(ctx, tick); err != nil {
		return fmt.Errorf("upsert tick %s: %w", tick.Symbol, err)
	}
	return nil
}

// WriteTrade идемпотентен: повтор с тем же trade_id игнорируется
func (s *PostgresSink) WriteTrade(ctx context.Context, trade models.Trade) error {
	inserted, err := s.trades.Insert(ctx, trade)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", trade.TradeID, err)
	}
	if !inserted {
		s.log.Debug("trade already stored", utils.TradeID(trade.TradeID))
	}
	return nil
}

func (s *PostgresSink) WriteSession(ctx context.Context, session models.Session) error {
	if err := s.sessions.Upsert(ctx, session); err != nil {
		return fmt.Errorf("upsert session %s: %w", session.ID, err)
	}
	return nil
}

func (s *PostgresSink) WritePosition(ctx context.Context, pos models.Position) error {
	if err := s.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("upsert position %s: %w", pos.ID, err)
	}
	return nil
}

// RunTickRetention периодически удаляет тики старше retention
// Блокируется до отмены ctx. retention <= 0 отключает очистку.
func (s *PostgresSink) RunTickRetention(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.pruneTicks(ctx, now.Add(-retention))
		}
	}
}

func (s *PostgresSink) pruneTicks(ctx context.Context, before time.Time) {
	deleted, err := s.ticks.DeleteOlderThan(ctx, before)
	if err != nil {
		s.log.Warn("tick retention failed", utils.Err(err))
		return
	}
	if deleted > 0 {
		s.log.Info("old ticks pruned", utils.Int64("deleted", deleted), utils.String("before", before.UTC().Format(time.RFC3339)))
	}
}
