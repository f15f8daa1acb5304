// Package units converts between integer base units and display amounts of
// the 6-decimal savings coin.
package units

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of the coin.
const Decimals = 6

// Scale is the number of base units per display unit.
const Scale int64 = 1_000_000

var scale = decimal.New(1, Decimals)

// ToDisplayDecimal converts base units to an exact display amount.
func ToDisplayDecimal(base decimal.Decimal) decimal.Decimal {
	return base.Div(scale)
}

// ToDisplay converts base units to a floating-point display amount.
func ToDisplay(base decimal.Decimal) float64 {
	f, _ := ToDisplayDecimal(base).Float64()
	return f
}

// FromDisplay converts a display amount to base units, truncating any
// precision below one base unit.
func FromDisplay(display decimal.Decimal) decimal.Decimal {
	return display.Mul(scale).Truncate(0)
}

// FromDisplayFloat converts a floating-point display amount to base units.
func FromDisplayFloat(display float64) decimal.Decimal {
	return FromDisplay(decimal.NewFromFloat(display))
}

// ParseBaseUnits parses a non-negative integer base-unit amount as reported by the
// ledger (decimal string or JSON number).
func ParseBaseUnits(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %q", s)
	}
	if !d.Equal(d.Truncate(0)) {
		return decimal.Zero, fmt.Errorf("fractional base-unit amount %q", s)
	}
	return d, nil
}

// BaseUnitsString renders an integer base-unit amount for a ledger argument.
func BaseUnitsString(d decimal.Decimal) string {
	return d.Truncate(0).String()
}
