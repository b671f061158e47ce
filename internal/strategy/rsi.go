package strategy

import (
	"fmt"
	"time"

	"tradepipe/internal/indicators"
	"tradepipe/pkg/types"
)

// RSIReversal signals mean reversion at RSI extremes: Buy when RSI drops
// below the oversold line, Sell when it rises above the overbought line.
// A signal fires on entering the zone, not on every candle inside it.
type RSIReversal struct {
	Period     int
	Oversold   float64
	Overbought float64
	Confidence float64

	lastWindow map[string]time.Time
	inZone     map[string]types.SignalAction
}

// NewRSIReversal creates an RSI strategy with the usual 30/70 lines.
func NewRSIReversal(period int) *RSIReversal {
	return &RSIReversal{
		Period:     period,
		Oversold:   30,
		Overbought: 70,
		Confidence: 0.55,
		lastWindow: make(map[string]time.Time),
		inZone:     make(map[string]types.SignalAction),
	}
}

func (s *RSIReversal) Name() string { return fmt.Sprintf("rsi_%d", s.Period) }

func (s *RSIReversal) Evaluate(tick types.MarketTick, candles []types.Candle) *types.TradeSignal {
	if len(candles) < s.Period+1 {
		return nil
	}
	newest := candles[len(candles)-1].OpenTime
	if !newest.After(s.lastWindow[tick.Symbol]) {
		return nil
	}
	s.lastWindow[tick.Symbol] = newest

	// Rebuild from the window so the value is a pure function of it.
	rsi := indicators.NewRSI(s.Period)
	for _, c := range closes(candles) {
		rsi.Update(c)
	}
	if !rsi.IsReady() {
		return nil
	}

	var action types.SignalAction
	switch v := rsi.Value(); {
	case v <= s.Oversold:
		action = types.ActionBuy
	case v >= s.Overbought:
		action = types.ActionSell
	default:
		delete(s.inZone, tick.Symbol)
		return nil
	}
	if s.inZone[tick.Symbol] == action {
		return nil
	}
	s.inZone[tick.Symbol] = action

	return &types.TradeSignal{
		Symbol:     tick.Symbol,
		Action:     action,
		Price:      tick.Price,
		Strategy:   s.Name(),
		Confidence: s.Confidence,
		Timestamp:  tick.Timestamp,
	}
}
