package utils

import (
	"math"
	"testing"
)

func TestNormalizeAndValidateSymbol(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{" xbtusdtm ", "XBTUSDTM", false},
		{"BTCUSDTPERP", "BTCUSDTPERP", false},
		{"eth_usdt", "ETH_USDT", false},
		{"x", "X", true},
		{"", "", true},
		{"BTC/USDT", "BTC/USDT", true},
		{"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456", "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := NormalizeSymbol(tt.in)
			if got != tt.want {
				t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if err := ValidateSymbol(got); (err != nil) != tt.wantErr {
				t.Errorf("ValidateSymbol(%q) error = %v, wantErr %v", got, err, tt.wantErr)
			}
		})
	}
}

func TestNumericValidators(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(string, float64) error
		v       float64
		wantErr bool
	}{
		{"positive ok", ValidatePositive, 0.001, false},
		{"positive zero", ValidatePositive, 0, true},
		{"positive NaN", ValidatePositive, math.NaN(), true},
		{"positive Inf", ValidatePositive, math.Inf(1), true},
		{"non-negative zero", ValidateNonNegative, 0, false},
		{"non-negative below", ValidateNonNegative, -0.1, true},
		{"fraction edge", ValidateFraction, 1, false},
		{"fraction above", ValidateFraction, 1.01, true},
		{"fraction negative", ValidateFraction, -0.01, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn("value", tt.v); (err != nil) != tt.wantErr {
				t.Errorf("error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
