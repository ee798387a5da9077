// Package persistence асинхронно сохраняет тики, сделки и снимки сессий.
//
// Запись никогда не блокирует путь приёма данных и не откатывает состояние
// в памяти: при переполнении очереди запись отбрасывается, ошибки хранилища
// только логируются.
package persistence

import (
	"context"

	"papertrade/internal/models"
)

// Sink - приёмник записей (PostgreSQL, NATS)
type Sink interface {
	Name() string
	WriteTick(ctx context.Context, tick models.Tick) error
	WriteTrade(ctx context.Context, trade models.Trade) error
	WriteSession(ctx context.Context, s models.Session) error
	WritePosition(ctx context.Context, pos models.Position) error
}

// Виды записей
const (
	KindTick     = "tick"
	KindTrade    = "trade"
	KindSession  = "session"
	KindPosition = "position"
)

// record - элемент очереди
type record struct {
	kind     string
	tick     models.Tick
	trade    models.Trade
	session  models.Session
	position models.Position
}

func (r *record) writeTo(ctx context.Context, s Sink) error {
	switch r.kind {
	case KindTick:
		return s.WriteTick(ctx, r.tick)
	case KindTrade:
		return s.WriteTrade(ctx, r.trade)
	case KindSession:
		return s.WriteSession(ctx, r.session)
	case KindPosition:
		return s.WritePosition(ctx, r.position)
	}
	return nil
}
