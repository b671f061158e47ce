package strategy

import (
	"time"

	"tradepipe/pkg/types"
)

// HistorySize is how many closed candles are retained per symbol.
const HistorySize = 100

// Aggregator builds interval-aligned candles from ticks. One open builder is
// kept per symbol; a tick whose aligned window is later than the open one
// closes the candle and starts a new builder from the tick.
type Aggregator struct {
	interval time.Duration
	label    string
	open     map[string]*types.Candle
}

// NewAggregator creates an aggregator for one interval. label is the wire
// name of the interval ("1m", "1h").
func NewAggregator(interval time.Duration, label string) *Aggregator {
	return &Aggregator{
		interval: interval,
		label:    label,
		open:     make(map[string]*types.Candle),
	}
}

// Update folds one tick in and returns the closed candle when the tick
// rolled the window over, or nil.
func (a *Aggregator) Update(t types.MarketTick) *types.Candle {
	windowStart := t.Timestamp.Truncate(a.interval)

	cur, ok := a.open[t.Symbol]
	if !ok {
		a.open[t.Symbol] = a.newBuilder(t, windowStart)
		return nil
	}

	if windowStart.After(cur.OpenTime) {
		closed := *cur
		a.open[t.Symbol] = a.newBuilder(t, windowStart)
		return &closed
	}

	if t.Price.GreaterThan(cur.High) {
		cur.High = t.Price
	}
	if t.Price.LessThan(cur.Low) {
		cur.Low = t.Price
	}
	cur.Close = t.Price
	cur.Volume = cur.Volume.Add(t.Volume)
	return nil
}

func (a *Aggregator) newBuilder(t types.MarketTick, windowStart time.Time) *types.Candle {
	return &types.Candle{
		Symbol:    t.Symbol,
		Open:      t.Price,
		High:      t.Price,
		Low:       t.Price,
		Close:     t.Price,
		Volume:    t.Volume,
		OpenTime:  windowStart,
		CloseTime: windowStart.Add(a.interval),
		Interval:  a.label,
	}
}

// History is a per-symbol ring of the most recent closed candles, oldest
// evicted at capacity.
type History struct {
	size    int
	candles map[string][]types.Candle
}

// NewHistory creates a history bounded at size candles per symbol.
func NewHistory(size int) *History {
	if size <= 0 {
		size = HistorySize
	}
	return &History{size: size, candles: make(map[string][]types.Candle)}
}

// Push appends a closed candle, evicting the oldest past capacity.
func (h *History) Push(c types.Candle) {
	w := append(h.candles[c.Symbol], c)
	if len(w) > h.size {
		w = w[1:]
	}
	h.candles[c.Symbol] = w
}

// Window returns the retained candles for a symbol, oldest first. The slice
// is shared; callers must not mutate it.
func (h *History) Window(symbol string) []types.Candle {
	return h.candles[symbol]
}
