package strategy

import (
	"fmt"
	"time"

	"tradepipe/internal/indicators"
	"tradepipe/pkg/types"
)

// BandBounce trades Bollinger band touches: Buy when the close breaks below
// the lower band, Sell when it breaks above the upper band.
type BandBounce struct {
	Period     int
	StdDevs    float64
	Confidence float64

	lastWindow map[string]time.Time
	outside    map[string]types.SignalAction
}

// NewBandBounce creates a Bollinger band strategy.
func NewBandBounce(period int, stdDevs float64) *BandBounce {
	return &BandBounce{
		Period:     period,
		StdDevs:    stdDevs,
		Confidence: 0.5,
		lastWindow: make(map[string]time.Time),
		outside:    make(map[string]types.SignalAction),
	}
}

func (s *BandBounce) Name() string { return fmt.Sprintf("bollinger_%d", s.Period) }

func (s *BandBounce) Evaluate(tick types.MarketTick, candles []types.Candle) *types.TradeSignal {
	if len(candles) < s.Period {
		return nil
	}
	newest := candles[len(candles)-1].OpenTime
	if !newest.After(s.lastWindow[tick.Symbol]) {
		return nil
	}
	s.lastWindow[tick.Symbol] = newest

	bb := indicators.NewBollinger(s.Period, s.StdDevs)
	cs := closes(candles)
	for _, c := range cs {
		bb.Update(c)
	}
	if !bb.IsReady() {
		return nil
	}

	last := cs[len(cs)-1]
	var action types.SignalAction
	switch {
	case last < bb.Lower():
		action = types.ActionBuy
	case last > bb.Upper():
		action = types.ActionSell
	default:
		delete(s.outside, tick.Symbol)
		return nil
	}
	if s.outside[tick.Symbol] == action {
		return nil
	}
	s.outside[tick.Symbol] = action

	return &types.TradeSignal{
		Symbol:     tick.Symbol,
		Action:     action,
		Price:      tick.Price,
		Strategy:   s.Name(),
		Confidence: s.Confidence,
		Timestamp:  tick.Timestamp,
	}
}
