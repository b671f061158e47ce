package strategy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"tradepipe/pkg/types"
)

// MACross signals on moving-average crossovers: Buy on a golden cross (fast
// SMA crossing above slow), Sell on a death cross. The averages are computed
// from the candle window on every call, so state survives restarts.
type MACross struct {
	FastPeriod int
	SlowPeriod int
	Confidence float64
	StopPct    float64 // stop-loss distance as a fraction of entry
	TargetPct  float64 // take-profit distance as a fraction of entry

	lastWindow map[string]time.Time // newest candle evaluated per symbol
	prevAction map[string]types.SignalAction
}

// NewMACross creates an MA-cross strategy with 2%/4% stop/target brackets.
func NewMACross(fast, slow int) *MACross {
	return &MACross{
		FastPeriod: fast,
		SlowPeriod: slow,
		Confidence: 0.6,
		StopPct:    0.02,
		TargetPct:  0.04,
		lastWindow: make(map[string]time.Time),
		prevAction: make(map[string]types.SignalAction),
	}
}

func (s *MACross) Name() string {
	return fmt.Sprintf("ma_cross_%d_%d", s.FastPeriod, s.SlowPeriod)
}

func (s *MACross) Evaluate(tick types.MarketTick, candles []types.Candle) *types.TradeSignal {
	if len(candles) < s.SlowPeriod+1 {
		return nil
	}
	newest := candles[len(candles)-1].OpenTime
	if !newest.After(s.lastWindow[tick.Symbol]) {
		// Same candle window as the last evaluation: nothing new to cross.
		return nil
	}
	s.lastWindow[tick.Symbol] = newest

	cs := closes(candles)
	prev := cs[:len(cs)-1]
	curFast, curSlow := meanLast(cs, s.FastPeriod), meanLast(cs, s.SlowPeriod)
	prevFast, prevSlow := meanLast(prev, s.FastPeriod), meanLast(prev, s.SlowPeriod)

	var action types.SignalAction
	switch {
	case prevFast <= prevSlow && curFast > curSlow:
		action = types.ActionBuy
	case prevFast >= prevSlow && curFast < curSlow:
		action = types.ActionSell
	default:
		return nil
	}
	if s.prevAction[tick.Symbol] == action {
		return nil
	}
	s.prevAction[tick.Symbol] = action

	return s.bracketed(tick, action)
}

func (s *MACross) bracketed(tick types.MarketTick, action types.SignalAction) *types.TradeSignal {
	stopPct := decimal.NewFromFloat(s.StopPct)
	targetPct := decimal.NewFromFloat(s.TargetPct)
	one := decimal.NewFromInt(1)

	var sl, tp decimal.Decimal
	if action == types.ActionBuy {
		sl = tick.Price.Mul(one.Sub(stopPct))
		tp = tick.Price.Mul(one.Add(targetPct))
	} else {
		sl = tick.Price.Mul(one.Add(stopPct))
		tp = tick.Price.Mul(one.Sub(targetPct))
	}
	return &types.TradeSignal{
		Symbol:     tick.Symbol,
		Action:     action,
		Price:      tick.Price,
		StopLoss:   &sl,
		TakeProfit: &tp,
		Strategy:   s.Name(),
		Confidence: s.Confidence,
		Timestamp:  tick.Timestamp,
	}
}
