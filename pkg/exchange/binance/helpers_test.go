package binance

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func nopLogger() zerolog.Logger { return zerolog.Nop() }

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}
