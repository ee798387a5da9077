package models

import "time"

// Session - синтетическая торговая сессия (paper trading)
type Session struct {
	ID             string         `json:"id" db:"id"`
	Name           string         `json:"name" db:"name"`
	Symbols        []string       `json:"symbols" db:"symbols"`
	Timeframe      string         `json:"timeframe" db:"timeframe"`
	InitialCapital float64        `json:"initial_capital" db:"initial_capital"`
	CurrentValue   float64        `json:"current_value" db:"current_value"`
	RealizedPnl    float64        `json:"realized_pnl" db:"realized_pnl"`
	UnrealizedPnl  float64        `json:"unrealized_pnl" db:"unrealized_pnl"`
	Risk           RiskParameters `json:"risk" db:"risk"`
	Status         string         `json:"status" db:"status"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty" db:"started_at"`
	StoppedAt      *time.Time     `json:"stopped_at,omitempty" db:"stopped_at"`
}

// HasSymbol проверяет, входит ли символ во вселенную сессии
// Пустой список означает "любой символ"
func (s *Session) HasSymbol(symbol string) bool {
	if len(s.Symbols) == 0 {
		return true
	}
	for _, sym := range s.Symbols {
		if sym == symbol {
			return true
		}
	}
	return false
}

// Статусы сессии
const (
	SessionStatusCreated = "created"
	SessionStatusRunning = "running"
	SessionStatusStopped = "stopped"
)

// RiskParameters - риск-параметры сессии
//
// Доли, не проценты: 0.02 = 2%.
// MaxPositionSize ограничивает notional позиции долей от CurrentValue
// (значение больше 1 означает плечо), DailyLossLimit - дневной
// реализованный убыток долей от InitialCapital.
type RiskParameters struct {
	MaxPositionSize   float64 `json:"max_position_size" yaml:"max_position_size"`
	StopLossPercent   float64 `json:"stop_loss_percent" yaml:"stop_loss_percent"`
	TakeProfitPercent float64 `json:"take_profit_percent" yaml:"take_profit_percent"`
	RiskPerTrade      float64 `json:"risk_per_trade" yaml:"risk_per_trade"`
	DailyLossLimit    float64 `json:"daily_loss_limit" yaml:"daily_loss_limit"`
}

// DefaultRiskParameters - значения по умолчанию для новых сессий
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		MaxPositionSize:   1,
		StopLossPercent:   0.02,
		TakeProfitPercent: 0.04,
		RiskPerTrade:      0.01,
		DailyLossLimit:    0.05,
	}
}

// SessionMetrics - агрегированная статистика сессии
type SessionMetrics struct {
	SessionID        string  `json:"session_id"`
	TotalTrades      int     `json:"total_trades"`
	OpenPositions    int     `json:"open_positions"`
	WinningTrades    int     `json:"winning_trades"`
	LosingTrades     int     `json:"losing_trades"`
	WinRate          float64 `json:"win_rate"`
	RealizedPnl      float64 `json:"realized_pnl"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	DailyRealizedPnl float64 `json:"daily_realized_pnl"`
	CurrentValue     float64 `json:"current_value"`
	ReturnPercent    float64 `json:"return_percent"`
	MaxDrawdown      float64 `json:"max_drawdown"`
}
