package models

import "time"

// Position - синтетическая позиция внутри сессии
//
// Переход open -> closed происходит ровно один раз, закрытая позиция
// больше не изменяется. Менеджер отдаёт наружу только копии.
type Position struct {
	ID            string     `json:"id" db:"id"`
	SessionID     string     `json:"session_id" db:"session_id"`
	Symbol        string     `json:"symbol" db:"symbol"`
	Side          string     `json:"side" db:"side"` // long, short
	Size          float64    `json:"size" db:"size"`
	EntryPrice    float64    `json:"entry_price" db:"entry_price"`
	CurrentPrice  float64    `json:"current_price" db:"current_price"`
	StopLoss      float64    `json:"stop_loss" db:"stop_loss"`
	TakeProfit    float64    `json:"take_profit" db:"take_profit"`
	Status        string     `json:"status" db:"status"`
	UnrealizedPnl float64    `json:"unrealized_pnl" db:"unrealized_pnl"`
	RealizedPnl   float64    `json:"realized_pnl" db:"realized_pnl"`
	ClosePrice    float64    `json:"close_price,omitempty" db:"close_price"`
	CloseReason   string     `json:"close_reason,omitempty" db:"close_reason"`
	OpenedAt      time.Time  `json:"opened_at" db:"opened_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty" db:"closed_at"`
}

// IsOpen - позиция ещё не закрыта
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// Направления позиции
const (
	SideLong  = "long"
	SideShort = "short"
)

// Статусы позиции
const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"
)

// Причины закрытия позиции
const (
	CloseReasonStopLoss       = "stop_loss"
	CloseReasonTakeProfit     = "take_profit"
	CloseReasonManual         = "manual"
	CloseReasonSessionStopped = "session_stopped"
)

// IsValidSide проверяет направление позиции
func IsValidSide(side string) bool {
	return side == SideLong || side == SideShort
}

// AccountPosition - позиция на реальном аккаунте площадки (приватный топик)
//
// Только для наблюдения: бумажные позиции от неё не зависят.
type AccountPosition struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	RealizedPnl   float64   `json:"realized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WalletBalance - баланс кошелька площадки (приватный топик)
type WalletBalance struct {
	Currency         string    `json:"currency"`
	AvailableBalance float64   `json:"available_balance"`
	HoldBalance      float64   `json:"hold_balance"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AccountOrderEvent - изменение ордера или исполнение на аккаунте площадки
type AccountOrderEvent struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Type      string    `json:"type"`   // open, match, filled, canceled
	Status    string    `json:"status"` // open, done
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	FilledQty float64   `json:"filled_qty"`
	EventTime time.Time `json:"event_time"`
}
