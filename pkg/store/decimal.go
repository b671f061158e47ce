package store

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Decimals are stored as TEXT to avoid float drift in money columns.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse stored decimal %q: %w", s, err)
	}
	return d, nil
}
