package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradepipe/internal/events"
	"tradepipe/pkg/types"
)

const (
	// DefaultMinConfidence is the post-boost confidence floor.
	DefaultMinConfidence = 0.7

	retryCap     = 100
	retryBackoff = 500 * time.Millisecond

	envelopeSource = "strategy"
)

type registration struct {
	strategy Strategy
	enabled  bool
}

// Engine drives the strategy pool: it folds ticks into candles, evaluates
// every enabled strategy, applies the confluence boost, filters on the
// confidence floor and publishes survivors. Failed publishes land in a
// bounded retry queue drained in the background.
type Engine struct {
	bus           events.Bus
	agg           *Aggregator
	history       *History
	minConfidence float64
	log           zerolog.Logger

	mu         sync.Mutex
	strategies []*registration

	retryMu sync.Mutex
	retry   []events.Envelope
}

// NewEngine creates an engine aggregating candles at the given interval.
func NewEngine(bus events.Bus, interval time.Duration, label string, minConfidence float64, log zerolog.Logger) *Engine {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Engine{
		bus:           bus,
		agg:           NewAggregator(interval, label),
		history:       NewHistory(HistorySize),
		minConfidence: minConfidence,
		log:           log.With().Str("component", "strategy").Logger(),
	}
}

// Register adds a strategy, enabled.
func (e *Engine) Register(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = append(e.strategies, &registration{strategy: s, enabled: true})
}

// Toggle enables or disables a strategy by name.
func (e *Engine) Toggle(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.strategies {
		if r.strategy.Name() == name {
			r.enabled = enabled
			e.log.Info().Str("strategy", name).Bool("enabled", enabled).Msg("strategy toggled")
			return nil
		}
	}
	return fmt.Errorf("unknown strategy %q", name)
}

// Strategies lists registered strategy names with their enabled state.
func (e *Engine) Strategies() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(e.strategies))
	for _, r := range e.strategies {
		out[r.strategy.Name()] = r.enabled
	}
	return out
}

// Start subscribes to the tick topic and launches the retry drain loop.
func (e *Engine) Start(ctx context.Context) {
	e.bus.Subscribe(events.TopicMarketTick, e.onTick)
	go e.drainLoop(ctx)
}

func (e *Engine) onTick(ctx context.Context, ev events.Envelope) error {
	var tick types.MarketTick
	if err := events.DecodePayload(ev, &tick); err != nil {
		return fmt.Errorf("decode tick: %w", err)
	}

	e.mu.Lock()
	closed := e.agg.Update(tick)
	if closed != nil {
		e.history.Push(*closed)
	}
	window := e.history.Window(tick.Symbol)
	signals := e.evaluate(tick, window)
	e.mu.Unlock()

	if closed != nil {
		e.publish(ctx, events.NewEnvelope(events.TopicCandleClosed, *closed, envelopeSource, ev.CorrelationID))
	}

	applyConfluence(signals)
	for _, sig := range signals {
		if sig.Confidence < e.minConfidence {
			e.log.Debug().Str("strategy", sig.Strategy).Str("symbol", sig.Symbol).
				Float64("confidence", sig.Confidence).Msg("signal below confidence floor")
			continue
		}
		sig.CorrelationID = ev.CorrelationID
		e.log.Info().Str("strategy", sig.Strategy).Str("symbol", sig.Symbol).
			Str("action", string(sig.Action)).Float64("confidence", sig.Confidence).
			Msg("signal published")
		e.publish(ctx, events.NewEnvelope(events.TopicStrategySignal, *sig, envelopeSource, ev.CorrelationID))
	}
	return nil
}

// evaluate runs every enabled strategy; a panicking strategy is logged and
// skipped without cancelling the rest. Caller holds e.mu.
func (e *Engine) evaluate(tick types.MarketTick, window []types.Candle) []*types.TradeSignal {
	var signals []*types.TradeSignal
	for _, r := range e.strategies {
		if !r.enabled {
			continue
		}
		sig := e.safeEvaluate(r.strategy, tick, window)
		if sig != nil {
			signals = append(signals, sig)
		}
	}
	return signals
}

func (e *Engine) safeEvaluate(s Strategy, tick types.MarketTick, window []types.Candle) (sig *types.TradeSignal) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("strategy", s.Name()).
				Str("symbol", tick.Symbol).Msg("strategy panicked")
			sig = nil
		}
	}()
	return s.Evaluate(tick, window)
}

// applyConfluence boosts agreeing directional signals: with k of n agreeing
// on a direction, each gains 0.3*k/n, clamped to 1.0.
func applyConfluence(signals []*types.TradeSignal) {
	var n, buys, sells int
	for _, s := range signals {
		switch s.Action {
		case types.ActionBuy:
			n++
			buys++
		case types.ActionSell:
			n++
			sells++
		}
	}
	if n == 0 {
		return
	}
	for _, s := range signals {
		var k int
		switch s.Action {
		case types.ActionBuy:
			k = buys
		case types.ActionSell:
			k = sells
		default:
			continue
		}
		s.Confidence += 0.3 * float64(k) / float64(n)
		if s.Confidence > 1.0 {
			s.Confidence = 1.0
		}
	}
}

func (e *Engine) publish(ctx context.Context, ev events.Envelope) {
	if err := e.bus.Publish(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("topic", string(ev.Topic)).Msg("publish failed, queued for retry")
		e.enqueue(ev)
	}
}

func (e *Engine) enqueue(ev events.Envelope) {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	if len(e.retry) >= retryCap {
		e.retry = e.retry[1:]
	}
	e.retry = append(e.retry, ev)
}

// drainLoop retries queued envelopes in order every backoff period,
// stopping at the first envelope the bus still refuses.
func (e *Engine) drainLoop(ctx context.Context) {
	t := time.NewTicker(retryBackoff)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.drainOnce(ctx)
		}
	}
}

func (e *Engine) drainOnce(ctx context.Context) {
	for {
		e.retryMu.Lock()
		if len(e.retry) == 0 {
			e.retryMu.Unlock()
			return
		}
		ev := e.retry[0]
		e.retryMu.Unlock()

		if err := e.bus.Publish(ctx, ev); err != nil {
			return
		}

		e.retryMu.Lock()
		if len(e.retry) > 0 && e.retry[0].Timestamp.Equal(ev.Timestamp) && e.retry[0].Topic == ev.Topic {
			e.retry = e.retry[1:]
		}
		e.retryMu.Unlock()
	}
}

// Backlogged reports the retry queue depth.
func (e *Engine) Backlogged() int {
	e.retryMu.Lock()
	defer e.retryMu.Unlock()
	return len(e.retry)
}
