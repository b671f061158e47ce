package indicators

import "fmt"

// EMA is an exponential moving average seeded with the SMA of the first
// period samples, then ema += (x - ema) * alpha with alpha = 2/(period+1).
type EMA struct {
	period int
	alpha  float64
	seed   *SMA
	value  float64
	ready  bool
}

// NewEMA creates an exponential moving average of the given period.
func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
		seed:   NewSMA(period),
	}
}

func (e *EMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }

func (e *EMA) IsReady() bool { return e.ready }

func (e *EMA) Update(value float64) {
	if !e.ready {
		e.seed.Update(value)
		if e.seed.IsReady() {
			e.value = e.seed.Value()
			e.ready = true
		}
		return
	}
	e.value += (value - e.value) * e.alpha
}

func (e *EMA) Value() float64 { return e.value }

func (e *EMA) Reset() {
	e.seed.Reset()
	e.value, e.ready = 0, false
}

// Period returns the configured period.
func (e *EMA) Period() int { return e.period }
