package service

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NormalizeAmount converts a minor-unit amount to the whole major units the
// gateway expects, rounding half away from zero. Results that round to zero
// are clamped to 1.
func NormalizeAmount(minor, divisor int64) (int64, error) {
	if minor <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, minor)
	}
	if divisor <= 0 {
		divisor = 1
	}

	major := decimal.NewFromInt(minor).
		Div(decimal.NewFromInt(divisor)).
		Round(0).
		IntPart()
	if major < 1 {
		major = 1
	}
	return major, nil
}
