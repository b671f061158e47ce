// Package indicators implements the incremental technical indicators used
// by the strategy plug-ins. Every indicator updates in O(1) per sample and
// keeps its own state; Reset returns it to the empty state. Math is float64
// internally; callers convert to fixed-point at the boundary when a value is
// a price.
package indicators

// Indicator is the common contract: a name, readiness once enough samples
// have arrived, and a reset.
type Indicator interface {
	Name() string
	IsReady() bool
	Reset()
}

// ValueIndicator consumes one scalar per sample (usually a close price).
type ValueIndicator interface {
	Indicator
	Update(value float64)
	Value() float64
}

// CandleIndicator consumes high/low/close per sample.
type CandleIndicator interface {
	Indicator
	Update(high, low, close float64)
	Value() float64
}
