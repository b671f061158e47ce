package indicators

import (
	"fmt"
	"math"
)

// Bollinger computes SMA(period) +/- mult standard deviations over the last
// period samples, using running sum and sum-of-squares for O(1) updates.
type Bollinger struct {
	period int
	mult   float64
	buf    []float64
	head   int
	count  int
	sum    float64
	sumSq  float64
}

// NewBollinger creates Bollinger bands of the given period and width.
func NewBollinger(period int, mult float64) *Bollinger {
	if period < 2 {
		period = 2
	}
	if mult <= 0 {
		mult = 2
	}
	return &Bollinger{period: period, mult: mult, buf: make([]float64, period)}
}

func (b *Bollinger) Name() string { return fmt.Sprintf("BB(%d,%.1f)", b.period, b.mult) }

func (b *Bollinger) IsReady() bool { return b.count >= b.period }

func (b *Bollinger) Update(value float64) {
	if b.count >= b.period {
		old := b.buf[b.head]
		b.sum -= old
		b.sumSq -= old * old
	} else {
		b.count++
	}
	b.buf[b.head] = value
	b.sum += value
	b.sumSq += value * value
	b.head = (b.head + 1) % b.period
}

func (b *Bollinger) stddev() float64 {
	if b.count < b.period {
		return 0
	}
	n := float64(b.period)
	mean := b.sum / n
	variance := b.sumSq/n - mean*mean
	if variance < 0 { // float rounding near zero variance
		variance = 0
	}
	return math.Sqrt(variance)
}

// Middle returns the central SMA line.
func (b *Bollinger) Middle() float64 {
	if b.count == 0 {
		return 0
	}
	n := b.count
	if n > b.period {
		n = b.period
	}
	return b.sum / float64(n)
}

// Upper returns middle + mult * sigma.
func (b *Bollinger) Upper() float64 { return b.Middle() + b.mult*b.stddev() }

// Lower returns middle - mult * sigma.
func (b *Bollinger) Lower() float64 { return b.Middle() - b.mult*b.stddev() }

// Value aliases Middle so Bollinger satisfies ValueIndicator.
func (b *Bollinger) Value() float64 { return b.Middle() }

func (b *Bollinger) Reset() {
	b.head, b.count, b.sum, b.sumSq = 0, 0, 0, 0
	for i := range b.buf {
		b.buf[i] = 0
	}
}
