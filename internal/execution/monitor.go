package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tradepipe/internal/events"
	"tradepipe/pkg/types"
)

// DefaultMonitorInterval is the pending-order scan cadence.
const DefaultMonitorInterval = 5 * time.Second

// PendingMonitor sweeps non-terminal orders: stale ones are cancelled,
// the rest re-queried, and terminal transitions published.
type PendingMonitor struct {
	engine   *Engine
	timeout  time.Duration
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewPendingMonitor creates a monitor cancelling orders older than timeout.
func NewPendingMonitor(engine *Engine, timeout time.Duration, log zerolog.Logger) *PendingMonitor {
	return &PendingMonitor{
		engine:   engine,
		timeout:  timeout,
		interval: DefaultMonitorInterval,
		log:      log.With().Str("component", "pending-monitor").Logger(),
		now:      time.Now,
	}
}

// Run sweeps until ctx is cancelled.
func (m *PendingMonitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one pass over the pending orders.
func (m *PendingMonitor) Sweep(ctx context.Context) {
	adapter := m.engine.adapter()
	for _, o := range m.engine.tracker.Pending() {
		if m.timeout > 0 && m.now().UTC().Sub(o.CreatedAt) >= m.timeout {
			m.cancel(ctx, adapter, o)
			continue
		}
		m.refresh(ctx, adapter, o)
	}
}

func (m *PendingMonitor) cancel(ctx context.Context, adapter OrderAdapter, o types.Order) {
	if o.ExchangeOrderID != "" {
		if err := adapter.CancelOrder(ctx, o.Symbol, o.ExchangeOrderID); err != nil {
			m.log.Warn().Err(err).Str("orderId", o.ID).Msg("stale order cancel failed")
			return
		}
	}
	o.Status = types.StatusCanceled
	at := m.now().UTC()
	o.UpdatedAt = &at
	m.engine.tracker.Upsert(o)
	m.engine.persistOrder(ctx, o)
	m.log.Info().Str("orderId", o.ID).Str("symbol", o.Symbol).Msg("stale order cancelled")
	m.publish(ctx, o)
}

func (m *PendingMonitor) refresh(ctx context.Context, adapter OrderAdapter, o types.Order) {
	if o.ExchangeOrderID == "" {
		return
	}
	remote, err := adapter.QueryOrder(ctx, o.Symbol, o.ExchangeOrderID)
	if err != nil {
		m.log.Warn().Err(err).Str("orderId", o.ID).Msg("pending order query failed")
		return
	}

	wasTerminal := o.Status.Terminal()
	if remote.FilledQuantity.GreaterThan(o.FilledQuantity) {
		o.ApplyFill(remote.FilledQuantity, remote.FilledPrice, m.now().UTC())
	}
	if remote.Status.Terminal() && !o.Status.Terminal() {
		o.Status = remote.Status
		at := m.now().UTC()
		o.UpdatedAt = &at
	}
	m.engine.tracker.Upsert(o)
	m.engine.persistOrder(ctx, o)

	if o.Status.Terminal() && !wasTerminal {
		if o.Status == types.StatusFilled {
			m.engine.recordFill(ctx, o)
		}
		m.publish(ctx, o)
	}
}

func (m *PendingMonitor) publish(ctx context.Context, o types.Order) {
	if err := m.engine.bus.Publish(ctx, events.NewEnvelope(events.TopicOrdersExecuted, o, envelopeSource, o.CorrelationID)); err != nil {
		m.log.Error().Err(err).Str("orderId", o.ID).Msg("order event publish failed")
	}
}
