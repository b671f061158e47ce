package indicators

import "fmt"

// SMA is a simple moving average over a circular buffer with a running sum.
type SMA struct {
	period int
	buf    []float64
	head   int
	count  int
	sum    float64
}

// NewSMA creates a simple moving average of the given period.
func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{period: period, buf: make([]float64, period)}
}

func (s *SMA) Name() string { return fmt.Sprintf("SMA(%d)", s.period) }

// IsReady reports whether period samples have arrived.
func (s *SMA) IsReady() bool { return s.count >= s.period }

func (s *SMA) Update(value float64) {
	if s.count >= s.period {
		s.sum -= s.buf[s.head]
	} else {
		s.count++
	}
	s.buf[s.head] = value
	s.sum += value
	s.head = (s.head + 1) % s.period
}

func (s *SMA) Value() float64 {
	if s.count == 0 {
		return 0
	}
	n := s.count
	if n > s.period {
		n = s.period
	}
	return s.sum / float64(n)
}

func (s *SMA) Reset() {
	s.head, s.count, s.sum = 0, 0, 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// Period returns the configured window length.
func (s *SMA) Period() int { return s.period }
