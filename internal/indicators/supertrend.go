package indicators

import "fmt"

// Trend direction reported by SuperTrend.
const (
	TrendUp   = 1
	TrendDown = -1
)

// SuperTrend overlays ATR-width bands on the candle midpoint and flips
// direction when close crosses the opposing band. Bands ratchet: the lower
// band only rises while the trend is up, the upper band only falls while the
// trend is down, which gives the indicator its hysteresis.
type SuperTrend struct {
	atr   *ATR
	mult  float64
	trend int

	upper     float64
	lower     float64
	prevClose float64
	seen      bool
}

// NewSuperTrend creates a SuperTrend with the given ATR period and band multiplier.
func NewSuperTrend(period int, mult float64) *SuperTrend {
	if mult <= 0 {
		mult = 3
	}
	return &SuperTrend{atr: NewATR(period), mult: mult, trend: TrendUp}
}

func (s *SuperTrend) Name() string { return fmt.Sprintf("ST(%d,%.1f)", s.atr.period, s.mult) }

func (s *SuperTrend) IsReady() bool { return s.atr.IsReady() }

// Update consumes one closed candle's high, low and close.
func (s *SuperTrend) Update(high, low, close float64) {
	s.atr.Update(high, low, close)
	if !s.atr.IsReady() {
		return
	}

	mid := (high + low) / 2
	band := s.mult * s.atr.Value()
	basicUpper := mid + band
	basicLower := mid - band

	if !s.seen {
		s.upper, s.lower = basicUpper, basicLower
		s.prevClose = close
		s.seen = true
		return
	}

	// Ratchet against the prior final bands. A band resets only when the
	// basic band tightens or the previous close already broke through.
	if basicLower > s.lower || s.prevClose < s.lower {
		s.lower = basicLower
	}
	if basicUpper < s.upper || s.prevClose > s.upper {
		s.upper = basicUpper
	}

	switch s.trend {
	case TrendUp:
		if close < s.lower {
			s.trend = TrendDown
		}
	case TrendDown:
		if close > s.upper {
			s.trend = TrendUp
		}
	}
	s.prevClose = close
}

// Trend returns TrendUp or TrendDown.
func (s *SuperTrend) Trend() int { return s.trend }

// Value returns the active stop line: the lower band in an uptrend, the upper
// band in a downtrend.
func (s *SuperTrend) Value() float64 {
	if s.trend == TrendUp {
		return s.lower
	}
	return s.upper
}

func (s *SuperTrend) Reset() {
	s.atr.Reset()
	s.trend = TrendUp
	s.upper, s.lower, s.prevClose = 0, 0, 0
	s.seen = false
}
