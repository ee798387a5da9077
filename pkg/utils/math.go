package utils

import (
	"math"

	"github.com/shopspring/decimal"
)

// math.go - денежная арифметика симулятора
//
// Все расчёты PNL и цен исполнения выполняются в decimal, чтобы
// накопление P&L по тысячам тиков не давало дрейфа float64.
// Наружу отдаются float64 (модели, JSON, БД).

// Знаки направления позиции
const (
	SideLong  = "long"
	SideShort = "short"
)

// SideSign возвращает +1 для long, -1 для short и 0 для неизвестной стороны
func SideSign(side string) int64 {
	switch side {
	case SideLong:
		return 1
	case SideShort:
		return -1
	default:
		return 0
	}
}

// CalculatePNL считает PNL позиции: (current - entry) × size × sign(side)
//
// Примеры:
//   - CalculatePNL("long", 100, 110, 10) = 100
//   - CalculatePNL("short", 100, 110, 10) = -100
func CalculatePNL(side string, entryPrice, currentPrice, size float64) float64 {
	if size <= 0 {
		return 0
	}
	sign := SideSign(side)
	if sign == 0 {
		return 0
	}

	pnl := decimal.NewFromFloat(currentPrice).
		Sub(decimal.NewFromFloat(entryPrice)).
		Mul(decimal.NewFromFloat(size)).
		Mul(decimal.NewFromInt(sign))

	f, _ := pnl.Float64()
	return f
}

// SumDecimal складывает значения без потери точности
func SumDecimal(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	f, _ := total.Float64()
	return f
}

// Notional возвращает стоимость позиции: size × price
func Notional(size, price float64) float64 {
	f, _ := decimal.NewFromFloat(size).Mul(decimal.NewFromFloat(price)).Float64()
	return f
}

// PercentOf возвращает base × fraction (fraction = 0.02 для 2%)
func PercentOf(base, fraction float64) float64 {
	f, _ := decimal.NewFromFloat(base).Mul(decimal.NewFromFloat(fraction)).Float64()
	return f
}

// ApplySlippage сдвигает цену против инициатора сделки:
// покупка дороже, продажа дешевле
func ApplySlippage(price, fraction float64, buy bool) float64 {
	p := decimal.NewFromFloat(price)
	adj := p.Mul(decimal.NewFromFloat(fraction))
	if buy {
		p = p.Add(adj)
	} else {
		p = p.Sub(adj)
	}
	f, _ := p.Float64()
	return f
}

// StopTakeLevels рассчитывает цены stop-loss и take-profit от цены входа
//
// long:  SL = entry × (1 - sl%), TP = entry × (1 + tp%)
// short: SL = entry × (1 + sl%), TP = entry × (1 - tp%)
// Нулевой процент означает отсутствие уровня (возвращается 0).
func StopTakeLevels(side string, entry, stopLossPct, takeProfitPct float64) (stopLoss, takeProfit float64) {
	e := decimal.NewFromFloat(entry)
	one := decimal.NewFromInt(1)
	sign := decimal.NewFromInt(SideSign(side))

	if stopLossPct > 0 {
		stopLoss, _ = e.Mul(one.Sub(sign.Mul(decimal.NewFromFloat(stopLossPct)))).Float64()
	}
	if takeProfitPct > 0 {
		takeProfit, _ = e.Mul(one.Add(sign.Mul(decimal.NewFromFloat(takeProfitPct)))).Float64()
	}
	return stopLoss, takeProfit
}

// Round округляет до заданного числа знаков после запятой
func Round(value float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(value).Round(places).Float64()
	return f
}

// Abs возвращает модуль числа
func Abs(x float64) float64 {
	return math.Abs(x)
}

// Clamp ограничивает значение диапазоном [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
