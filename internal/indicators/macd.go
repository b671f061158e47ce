package indicators

import "fmt"

// MACD is the difference of a fast and slow EMA, with a signal line that is
// an EMA over the difference.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
}

// NewMACD creates a MACD; the fast period must be strictly shorter than the
// slow period.
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) (*MACD, error) {
	if fastPeriod >= slowPeriod {
		return nil, fmt.Errorf("macd: fast period %d must be less than slow period %d", fastPeriod, slowPeriod)
	}
	if signalPeriod < 1 {
		return nil, fmt.Errorf("macd: signal period %d must be positive", signalPeriod)
	}
	return &MACD{
		fast:   NewEMA(fastPeriod),
		slow:   NewEMA(slowPeriod),
		signal: NewEMA(signalPeriod),
	}, nil
}

func (m *MACD) Name() string {
	return fmt.Sprintf("MACD(%d,%d,%d)", m.fast.Period(), m.slow.Period(), m.signal.Period())
}

func (m *MACD) IsReady() bool { return m.slow.IsReady() && m.signal.IsReady() }

func (m *MACD) Update(value float64) {
	m.fast.Update(value)
	m.slow.Update(value)
	if m.slow.IsReady() {
		m.signal.Update(m.fast.Value() - m.slow.Value())
	}
}

// Value returns the MACD line (fast EMA minus slow EMA).
func (m *MACD) Value() float64 { return m.fast.Value() - m.slow.Value() }

// Signal returns the signal line.
func (m *MACD) Signal() float64 { return m.signal.Value() }

// Histogram returns MACD line minus signal line.
func (m *MACD) Histogram() float64 { return m.Value() - m.Signal() }

func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
}
