package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradepipe/internal/events"
	"tradepipe/pkg/circuit"
	"tradepipe/pkg/exchange/binance"
	"tradepipe/pkg/types"
)

const envelopeSource = "execution"

// Store persists the order flow; implementations live in pkg/store.
type Store interface {
	SaveOrder(ctx context.Context, o types.Order) error
	SaveTrade(ctx context.Context, o types.Order) error
	SavePosition(ctx context.Context, p types.Position) error
}

// Engine subscribes to approved orders and routes them through the adapter
// for the active trading mode. Orders for the same symbol are serialised;
// different symbols proceed in parallel.
type Engine struct {
	bus     events.Bus
	mode    *ModeProvider
	live    *Live
	paper   OrderAdapter
	tracker *Tracker
	store   Store
	log     zerolog.Logger
	now     func() time.Time

	// autoFallback flips Live to Paper when the live circuit opens.
	autoFallback bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires the execution engine. live may be nil when the process
// starts in a simulated mode; store may be nil in tests.
func NewEngine(bus events.Bus, mode *ModeProvider, live *Live, paper OrderAdapter, tracker *Tracker, store Store, autoFallback bool, log zerolog.Logger) *Engine {
	return &Engine{
		bus:          bus,
		mode:         mode,
		live:         live,
		paper:        paper,
		tracker:      tracker,
		store:        store,
		log:          log.With().Str("component", "execution").Logger(),
		now:          time.Now,
		autoFallback: autoFallback,
		locks:        make(map[string]*sync.Mutex),
	}
}

// Start subscribes to the approved-orders topic.
func (e *Engine) Start() {
	e.bus.Subscribe(events.TopicOrdersApproved, e.onApproved)
}

// Tracker exposes the order book for the monitors.
func (e *Engine) Tracker() *Tracker { return e.tracker }

func (e *Engine) symbolLock(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	return l
}

// adapter picks the venue for the active mode.
func (e *Engine) adapter() OrderAdapter {
	if e.mode.Mode() == types.ModeLive && e.live != nil {
		return e.live
	}
	return e.paper
}

func (e *Engine) onApproved(ctx context.Context, ev events.Envelope) error {
	var o types.Order
	if err := events.DecodePayload(ev, &o); err != nil {
		return fmt.Errorf("decode order: %w", err)
	}

	l := e.symbolLock(o.Symbol)
	l.Lock()
	defer l.Unlock()

	adapter := e.adapter()
	usedLive := e.live != nil && adapter == OrderAdapter(e.live)
	placed, err := adapter.PlaceOrder(ctx, o)
	if err != nil && usedLive && e.shouldFallback(err) {
		e.degradeToPaper(ctx, err)
		adapter = e.paper
		placed, err = adapter.PlaceOrder(ctx, o)
	}
	if err != nil {
		e.log.Error().Err(err).Str("orderId", o.ID).Str("symbol", o.Symbol).
			Str("adapter", adapter.Name()).Msg("order placement failed")
		o.Status = types.StatusRejected
		at := e.now().UTC()
		o.UpdatedAt = &at
		e.tracker.Upsert(o)
		e.persistOrder(ctx, o)
		e.alert(ctx, o, err)
		return nil
	}

	e.tracker.Upsert(placed)
	e.persistOrder(ctx, placed)
	if placed.FilledQuantity.IsPositive() {
		e.recordFill(ctx, placed)
	}

	e.log.Info().Str("orderId", placed.ID).Str("symbol", placed.Symbol).
		Str("status", string(placed.Status)).Str("exchangeOrderId", placed.ExchangeOrderID).
		Str("adapter", adapter.Name()).Msg("order executed")
	return e.bus.Publish(ctx, events.NewEnvelope(events.TopicOrdersExecuted, placed, envelopeSource, placed.CorrelationID))
}

// shouldFallback reports whether the live failure warrants flipping to
// paper: an open circuit or the transient failure that is about to open it.
func (e *Engine) shouldFallback(err error) bool {
	if !e.autoFallback || e.live == nil {
		return false
	}
	if errors.Is(err, circuit.ErrOpen) {
		return true
	}
	return binance.IsServerError(err) && !e.live.Breaker().Healthy()
}

func (e *Engine) degradeToPaper(ctx context.Context, cause error) {
	e.mode.Set(types.ModePaper)
	e.log.Error().Err(cause).Msg("live adapter circuit open, degraded to paper")
	health := types.SystemHealth{
		Component: "execution.live",
		Status:    types.HealthDegraded,
		Detail:    cause.Error(),
		Timestamp: e.now().UTC(),
	}
	if err := e.bus.Publish(ctx, events.NewEnvelope(events.TopicSystemHealth, health, envelopeSource, "")); err != nil {
		e.log.Error().Err(err).Msg("health event publish failed")
	}
}

func (e *Engine) recordFill(ctx context.Context, o types.Order) {
	if e.store != nil {
		if err := e.store.SaveTrade(ctx, o); err != nil {
			e.log.Error().Err(err).Str("orderId", o.ID).Msg("trade persist failed")
		}
	}
	pos := e.tracker.ApplyFill(o)
	if pos != nil && e.store != nil {
		if err := e.store.SavePosition(ctx, *pos); err != nil {
			e.log.Error().Err(err).Str("symbol", pos.Symbol).Msg("position persist failed")
		}
	}
}

func (e *Engine) persistOrder(ctx context.Context, o types.Order) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveOrder(ctx, o); err != nil {
		e.log.Error().Err(err).Str("orderId", o.ID).Msg("order persist failed")
	}
}

func (e *Engine) alert(ctx context.Context, o types.Order, cause error) {
	alert := types.RiskAlert{
		Symbol:    o.Symbol,
		Reason:    fmt.Sprintf("order execution failed: %v", cause),
		Severity:  0.8,
		Timestamp: e.now().UTC(),
	}
	if err := e.bus.Publish(ctx, events.NewEnvelope(events.TopicRiskAlerts, alert, envelopeSource, o.CorrelationID)); err != nil {
		e.log.Error().Err(err).Msg("risk alert publish failed")
	}
}
