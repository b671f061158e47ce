// Package strategy turns market ticks into trade signals. An Aggregator
// builds interval candles, plug-in strategies evaluate each tick against the
// candle window, and the Engine scores, filters and publishes the survivors.
package strategy

import (
	"tradepipe/pkg/types"
)

// Strategy is one signal-producing plug-in. Evaluate is synchronous and must
// be deterministic given the tick and candle window; candles are oldest
// first and must not be mutated. A nil return means no opinion.
type Strategy interface {
	Name() string
	Evaluate(tick types.MarketTick, candles []types.Candle) *types.TradeSignal
}

// closes extracts close prices as float64, oldest first.
func closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.Close.Float64()
	}
	return out
}

// meanLast averages the last period values; zero when there are not enough.
func meanLast(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period)
}
