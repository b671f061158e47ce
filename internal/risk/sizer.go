package risk

import (
	"github.com/shopspring/decimal"

	"tradepipe/pkg/types"
)

// DefaultMinUnit is the smallest tradeable quantity when the symbol has no
// explicit step size.
var DefaultMinUnit = decimal.RequireFromString("0.001")

// Sizer converts a signal plus account equity into an order quantity.
type Sizer struct {
	steps   map[string]decimal.Decimal
	minUnit decimal.Decimal
}

// NewSizer creates a sizer; steps maps symbols to exchange step sizes and
// may be nil.
func NewSizer(steps map[string]decimal.Decimal) *Sizer {
	return &Sizer{steps: steps, minUnit: DefaultMinUnit}
}

func (s *Sizer) step(symbol string) decimal.Decimal {
	if st, ok := s.steps[symbol]; ok && st.IsPositive() {
		return st
	}
	return s.minUnit
}

// Quantity sizes a signal: qty = equity * riskPct / stopDistance, where
// riskPct is the requested risk capped at maxRiskPercent. The result is
// floored to the symbol step size and clamped up to the minimum unit.
// Without a stop-loss the whole risk budget buys notional at the entry
// price. A zero stop distance sizes to zero.
func (s *Sizer) Quantity(sig types.TradeSignal, equity decimal.Decimal, maxRiskPercent float64) decimal.Decimal {
	if equity.Sign() <= 0 || sig.Price.Sign() <= 0 {
		return decimal.Zero
	}

	riskPct := maxRiskPercent
	if sig.RequestedRiskPercent > 0 && sig.RequestedRiskPercent < maxRiskPercent {
		riskPct = sig.RequestedRiskPercent
	}
	budget := equity.Mul(decimal.NewFromFloat(riskPct)).Div(decimal.NewFromInt(100))

	var qty decimal.Decimal
	if sig.StopLoss != nil {
		dist := sig.Price.Sub(*sig.StopLoss).Abs()
		if dist.IsZero() {
			return decimal.Zero
		}
		qty = budget.Div(dist)
	} else {
		qty = budget.Div(sig.Price)
	}

	qty = floorToStep(qty, s.step(sig.Symbol))
	if qty.LessThan(s.minUnit) {
		qty = s.minUnit
	}
	return qty
}

func floorToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}
