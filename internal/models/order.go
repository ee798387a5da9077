package models

import "time"

// SimulatedOrder - заявка на бумажное исполнение
type SimulatedOrder struct {
	ID             string  `json:"id"`
	SessionID      string  `json:"session_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"` // buy, sell
	RequestedSize  float64 `json:"requested_size"`
	RequestedPrice float64 `json:"requested_price"` // 0 = market
}

// IsMarket - рыночная заявка
func (o *SimulatedOrder) IsMarket() bool {
	return o.RequestedPrice <= 0
}

// IsBuy - заявка на покупку
func (o *SimulatedOrder) IsBuy() bool {
	return o.Side == OrderSideBuy
}

// Fill - результат симуляции исполнения
// Всегда ссылается на тик, по которому была рассчитана цена.
type Fill struct {
	OrderID        string    `json:"order_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	RequestedSize  float64   `json:"requested_size"`
	RequestedPrice float64   `json:"requested_price"`
	ExecutionPrice float64   `json:"execution_price"`
	LatencyMs      float64   `json:"latency_ms"`
	Slippage       float64   `json:"slippage"` // доля от базовой цены
	Success        bool      `json:"success"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	Tick           Tick      `json:"tick"`
	SettledAt      time.Time `json:"settled_at"`
}

// Trade - запись об исполненной сделке (append-only)
type Trade struct {
	TradeID    string    `json:"trade_id" db:"trade_id"`
	SessionID  string    `json:"session_id" db:"session_id"`
	PositionID string    `json:"position_id" db:"position_id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Side       string    `json:"side" db:"side"`     // buy, sell
	Action     string    `json:"action" db:"action"` // open, close
	Size       float64   `json:"size" db:"size"`
	Price      float64   `json:"price" db:"price"`
	Slippage   float64   `json:"slippage" db:"slippage"`
	LatencyMs  float64   `json:"latency_ms" db:"latency_ms"`
	Pnl        float64   `json:"pnl" db:"pnl"`
	Reason     string    `json:"reason,omitempty" db:"reason"`
	ExecutedAt time.Time `json:"executed_at" db:"executed_at"`
}

// Стороны заявки
const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"
)

// Действия сделки
const (
	TradeActionOpen  = "open"
	TradeActionClose = "close"
)

// EntrySide возвращает сторону заявки для открытия позиции
func EntrySide(positionSide string) string {
	if positionSide == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide возвращает сторону заявки для закрытия позиции
func ExitSide(positionSide string) string {
	if positionSide == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}
