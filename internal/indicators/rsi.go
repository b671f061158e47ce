package indicators

import "fmt"

// RSI is Wilder's relative strength index. The first period deltas seed the
// average gain/loss; afterwards avg = (avg*(period-1) + new) / period.
// RSI = 100 * avgGain / (avgGain + avgLoss), and 100 when avgLoss is zero.
type RSI struct {
	period  int
	prev    float64
	hasPrev bool
	deltas  int
	sumGain float64
	sumLoss float64
	avgGain float64
	avgLoss float64
	ready   bool
}

// NewRSI creates a Wilder RSI of the given period.
func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period}
}

func (r *RSI) Name() string { return fmt.Sprintf("RSI(%d)", r.period) }

func (r *RSI) IsReady() bool { return r.ready }

func (r *RSI) Update(value float64) {
	if !r.hasPrev {
		r.prev = value
		r.hasPrev = true
		return
	}

	delta := value - r.prev
	r.prev = value
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	if !r.ready {
		r.sumGain += gain
		r.sumLoss += loss
		r.deltas++
		if r.deltas == r.period {
			r.avgGain = r.sumGain / float64(r.period)
			r.avgLoss = r.sumLoss / float64(r.period)
			r.ready = true
		}
		return
	}

	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
}

func (r *RSI) Value() float64 {
	if !r.ready {
		return 0
	}
	if r.avgLoss == 0 {
		return 100
	}
	return 100 * r.avgGain / (r.avgGain + r.avgLoss)
}

func (r *RSI) Reset() {
	*r = RSI{period: r.period}
}
