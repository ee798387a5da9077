package utils

import (
	"fmt"
	"math"
	"strings"
)

// validator.go - проверка входных данных API и заявок

// NormalizeSymbol приводит тикер контракта к виду площадки: XBTUSDTM
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ValidateSymbol проверяет нормализованный символ: 2-32 символа [A-Z0-9_-]
func ValidateSymbol(symbol string) error {
	if len(symbol) < 2 || len(symbol) > 32 {
		return fmt.Errorf("symbol %q must be 2-32 characters", symbol)
	}
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("symbol %q contains invalid character %q", symbol, r)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidatePositive - v > 0 и конечно
func ValidatePositive(name string, v float64) error {
	if !finite(v) || v <= 0 {
		return fmt.Errorf("%s must be positive, got %v", name, v)
	}
	return nil
}

// ValidateNonNegative - v >= 0 и конечно
func ValidateNonNegative(name string, v float64) error {
	if !finite(v) || v < 0 {
		return fmt.Errorf("%s must not be negative, got %v", name, v)
	}
	return nil
}

// ValidateFraction - доля в [0, 1] (0.02 = 2%)
func ValidateFraction(name string, v float64) error {
	if !finite(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be a fraction in [0, 1], got %v", name, v)
	}
	return nil
}
