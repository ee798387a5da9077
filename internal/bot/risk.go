package bot

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/models"
	"papertrade/pkg/utils"
)

// Коды нарушений риска
const (
	RiskSessionNotRunning = "SESSION_NOT_RUNNING"
	RiskMaxPositionSize   = "RISK_MAX_POSITION_SIZE"
	RiskDailyLossLimit    = "RISK_DAILY_LOSS_LIMIT"
	RiskInvalidOrder      = "RISK_INVALID_ORDER"
)

// RiskError - отказ риск-контроля; состояние при этом не меняется
type RiskError struct {
	Code    string
	Message string
}

func (e *RiskError) Error() string {
	return e.Code + ": " + e.Message
}

// RiskCode возвращает код нарушения или ""
func RiskCode(err error) string {
	var riskErr *RiskError
	if errors.As(err, &riskErr) {
		return riskErr.Code
	}
	return ""
}

func riskErrorf(code, format string, args ...interface{}) *RiskError {
	return &RiskError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RiskEnforcer проверяет заявки на открытие позиции
//
// Проверки:
// - сессия в статусе running
// - size × price ≤ MaxPositionSize × CurrentValue
// - дневной реализованный убыток не достиг DailyLossLimit × InitialCapital
//
// Дневное окно - календарный день UTC по часам clock.
type RiskEnforcer struct {
	clock utils.Clock
}

// NewRiskEnforcer создаёт риск-контроль
func NewRiskEnforcer(clock utils.Clock) *RiskEnforcer {
	if clock == nil {
		clock = utils.SystemClock
	}
	return &RiskEnforcer{clock: clock}
}

// Now - текущее время риск-контроля
func (r *RiskEnforcer) Now() time.Time {
	return r.clock()
}

// dailyLoss - учёт реализованного P&L за текущий день
type dailyLoss struct {
	day      time.Time
	realized float64
}

// current возвращает P&L дня, сбрасывая его при смене дня
func (d *dailyLoss) current(now time.Time) float64 {
	if !utils.SameDay(d.day, now) {
		d.day = utils.GetDayStartFrom(now)
		d.realized = 0
	}
	return d.realized
}

// add учитывает реализованный P&L закрытия
func (d *dailyLoss) add(now time.Time, pnl float64) {
	d.current(now)
	d.realized = utils.SumDecimal(d.realized, pnl)
}

// ValidateRiskParameters проверяет параметры сессии
func ValidateRiskParameters(p models.RiskParameters) error {
	if err := utils.ValidateNonNegative("max_position_size", p.MaxPositionSize); err != nil {
		return riskErrorf(RiskInvalidOrder, "%v", err)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"stop_loss_percent", p.StopLossPercent},
		{"take_profit_percent", p.TakeProfitPercent},
		{"risk_per_trade", p.RiskPerTrade},
		{"daily_loss_limit", p.DailyLossLimit},
	} {
		if err := utils.ValidateFraction(f.name, f.v); err != nil {
			return riskErrorf(RiskInvalidOrder, "%v", err)
		}
	}
	return nil
}

// ValidateOrder проверяет форму заявки без учёта состояния сессии
func (r *RiskEnforcer) ValidateOrder(s *models.Session, req OpenPositionRequest) error {
	if !models.IsValidSide(req.Side) {
		return riskErrorf(RiskInvalidOrder, "side must be long or short, got %q", req.Side)
	}
	if err := utils.ValidatePositive("size", req.Size); err != nil {
		return riskErrorf(RiskInvalidOrder, "%v", err)
	}
	if req.Symbol == "" {
		return riskErrorf(RiskInvalidOrder, "symbol is required")
	}
	if !s.HasSymbol(req.Symbol) {
		return riskErrorf(RiskInvalidOrder, "symbol %s is not in session universe", req.Symbol)
	}
	if err := utils.ValidateNonNegative("price", req.Price); err != nil {
		return riskErrorf(RiskInvalidOrder, "%v", err)
	}
	return nil
}

// CheckOpen выполняет все проверки перед открытием по цене price
func (r *RiskEnforcer) CheckOpen(s *models.Session, daily *dailyLoss, req OpenPositionRequest, price float64) error {
	if s.Status != models.SessionStatusRunning {
		return riskErrorf(RiskSessionNotRunning, "session %s is %s", s.ID, s.Status)
	}
	if err := r.ValidateOrder(s, req); err != nil {
		return err
	}

	risk := s.Risk

	if risk.DailyLossLimit > 0 {
		limit := decimal.NewFromFloat(risk.DailyLossLimit).Mul(decimal.NewFromFloat(s.InitialCapital))
		realized := decimal.NewFromFloat(daily.current(r.clock()))
		if realized.Neg().GreaterThanOrEqual(limit) {
			return riskErrorf(RiskDailyLossLimit, "daily realized loss %s reached limit %s", realized.Neg().String(), limit.String())
		}
	}

	if risk.MaxPositionSize > 0 {
		notional := decimal.NewFromFloat(req.Size).Mul(decimal.NewFromFloat(price))
		maxNotional := decimal.NewFromFloat(risk.MaxPositionSize).Mul(decimal.NewFromFloat(s.CurrentValue))
		if notional.GreaterThan(maxNotional) {
			return riskErrorf(RiskMaxPositionSize, "notional %s exceeds max %s", notional.String(), maxNotional.String())
		}
	}

	return nil
}
