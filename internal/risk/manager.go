package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradepipe/internal/events"
	"tradepipe/pkg/types"
)

const envelopeSource = "risk"

// Manager is the signal gate: every strategy signal runs the guard pipeline
// and either becomes an approved order or a risk alert.
type Manager struct {
	bus     events.Bus
	limits  *Limits
	ks      *KillSwitch
	monitor *Monitor
	sizer   *Sizer
	log     zerolog.Logger
	now     func() time.Time
}

// NewManager wires the risk manager.
func NewManager(bus events.Bus, limits *Limits, ks *KillSwitch, monitor *Monitor, sizer *Sizer, log zerolog.Logger) *Manager {
	return &Manager{
		bus:     bus,
		limits:  limits,
		ks:      ks,
		monitor: monitor,
		sizer:   sizer,
		log:     log.With().Str("component", "risk").Logger(),
		now:     time.Now,
	}
}

// Start subscribes to strategy signals.
func (m *Manager) Start() {
	m.bus.Subscribe(events.TopicStrategySignal, m.onSignal)
}

func (m *Manager) onSignal(ctx context.Context, ev events.Envelope) error {
	var sig types.TradeSignal
	if err := events.DecodePayload(ev, &sig); err != nil {
		return fmt.Errorf("decode signal: %w", err)
	}

	order, reason := m.Evaluate(sig)
	if order == nil {
		m.reject(ctx, sig, reason)
		return nil
	}

	m.log.Info().Str("symbol", order.Symbol).Str("side", string(order.Side)).
		Str("quantity", order.Quantity.String()).Str("orderId", order.ID).
		Str("correlationId", order.CorrelationID).Msg("order approved")
	return m.bus.Publish(ctx, events.NewEnvelope(events.TopicOrdersApproved, *order, envelopeSource, sig.CorrelationID))
}

// Evaluate runs the guard pipeline. It returns the approved order, or nil
// and the rejection reason.
func (m *Manager) Evaluate(sig types.TradeSignal) (*types.Order, string) {
	lim := m.limits.Load()

	if m.ks.Active() {
		return nil, "Kill switch active"
	}

	if sig.Action.Opens() && m.monitor.OpenPositions() >= lim.MaxOpenPositions {
		return nil, fmt.Sprintf("open positions at limit (%d)", lim.MaxOpenPositions)
	}

	// The ratio gate only runs when the signal brackets both sides; a
	// signal with one leg missing passes through deliberately.
	if sig.StopLoss != nil && sig.TakeProfit != nil {
		dist := sig.Price.Sub(*sig.StopLoss).Abs()
		if dist.IsZero() {
			return nil, "stop loss equals entry"
		}
		rr, _ := sig.TakeProfit.Sub(sig.Price).Abs().Div(dist).Float64()
		if rr < lim.MinRiskRewardRatio {
			return nil, fmt.Sprintf("risk/reward %.2f below minimum %.2f", rr, lim.MinRiskRewardRatio)
		}
	}

	qty := m.sizer.Quantity(sig, m.monitor.Equity(), lim.MaxRiskPerTradePercent)
	if qty.Sign() <= 0 {
		return nil, "sized quantity is zero"
	}

	order := &types.Order{
		ID:            uuid.NewString(),
		Symbol:        sig.Symbol,
		Side:          sideFor(sig.Action),
		Type:          types.OrderTypeMarket,
		Quantity:      qty,
		Status:        types.StatusNew,
		CorrelationID: sig.CorrelationID,
		CreatedAt:     m.now().UTC(),
	}
	return order, ""
}

func sideFor(a types.SignalAction) types.OrderSide {
	switch a {
	case types.ActionBuy, types.ActionCloseShort:
		return types.SideBuy
	default:
		return types.SideSell
	}
}

func (m *Manager) reject(ctx context.Context, sig types.TradeSignal, reason string) {
	m.log.Warn().Str("symbol", sig.Symbol).Str("strategy", sig.Strategy).
		Str("reason", reason).Msg("signal rejected")
	alert := types.RiskAlert{
		Symbol:    sig.Symbol,
		Reason:    reason,
		Severity:  0.5,
		Strategy:  sig.Strategy,
		Timestamp: m.now().UTC(),
	}
	if err := m.bus.Publish(ctx, events.NewEnvelope(events.TopicRiskAlerts, alert, envelopeSource, sig.CorrelationID)); err != nil {
		m.log.Error().Err(err).Msg("risk alert publish failed")
	}
}
