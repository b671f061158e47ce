package indicators

import (
	"fmt"
	"math"
)

// ATR is Wilder-smoothed average true range, where true range is
// max(H-L, |H-prevClose|, |L-prevClose|).
type ATR struct {
	period    int
	prevClose float64
	hasPrev   bool
	samples   int
	sum       float64
	value     float64
	ready     bool
}

// NewATR creates an average true range of the given period.
func NewATR(period int) *ATR {
	if period < 1 {
		period = 1
	}
	return &ATR{period: period}
}

func (a *ATR) Name() string { return fmt.Sprintf("ATR(%d)", a.period) }

func (a *ATR) IsReady() bool { return a.ready }

func (a *ATR) Update(high, low, close float64) {
	tr := high - low
	if a.hasPrev {
		tr = math.Max(tr, math.Max(math.Abs(high-a.prevClose), math.Abs(low-a.prevClose)))
	}
	a.prevClose = close
	a.hasPrev = true

	if !a.ready {
		a.sum += tr
		a.samples++
		if a.samples == a.period {
			a.value = a.sum / float64(a.period)
			a.ready = true
		}
		return
	}

	p := float64(a.period)
	a.value = (a.value*(p-1) + tr) / p
}

func (a *ATR) Value() float64 { return a.value }

func (a *ATR) Reset() {
	*a = ATR{period: a.period}
}
