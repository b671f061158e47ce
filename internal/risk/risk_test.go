package risk

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradepipe/internal/events"
	"tradepipe/pkg/cache"
	"tradepipe/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newFixture(t *testing.T, limits types.RiskLimits) (*Manager, *Monitor, *KillSwitch, *events.LocalBus) {
	t.Helper()
	bus := events.NewLocalBus(zerolog.Nop())
	t.Cleanup(bus.Close)
	lim := NewLimits(limits)
	ks := NewKillSwitch(bus, zerolog.Nop())
	mon := NewMonitor(cache.NewMemory(), lim, ks, dec("10000"), zerolog.Nop())
	mgr := NewManager(bus, lim, ks, mon, NewSizer(nil), zerolog.Nop())
	return mgr, mon, ks, bus
}

func buySignal() types.TradeSignal {
	return types.TradeSignal{
		Symbol:        "BTCUSDT",
		Action:        types.ActionBuy,
		Price:         dec("50000"),
		StopLoss:      decPtr("49000"),
		TakeProfit:    decPtr("52000"),
		Strategy:      "ma_cross_5_10",
		Confidence:    0.9,
		CorrelationID: "corr-7",
		Timestamp:     time.Now().UTC(),
	}
}

func TestEvaluateApprovesAndSizes(t *testing.T) {
	mgr, _, _, _ := newFixture(t, types.DefaultRiskLimits())

	order, reason := mgr.Evaluate(buySignal())
	require.Empty(t, reason)
	require.NotNil(t, order)
	require.Equal(t, types.SideBuy, order.Side)
	require.Equal(t, types.OrderTypeMarket, order.Type)
	require.Equal(t, types.StatusNew, order.Status)
	require.Equal(t, "corr-7", order.CorrelationID)
	require.NotEmpty(t, order.ID)
	// equity 10000 * 1% / |50000-49000| = 0.1
	require.True(t, order.Quantity.Equal(dec("0.1")), "qty %s", order.Quantity)
}

func TestKillSwitchGuardRejectsFirst(t *testing.T) {
	mgr, _, ks, _ := newFixture(t, types.DefaultRiskLimits())
	ks.Activate(context.Background(), "manual", 0)

	order, reason := mgr.Evaluate(buySignal())
	require.Nil(t, order)
	require.Contains(t, reason, "Kill switch")
}

func TestOpenPositionsGuard(t *testing.T) {
	limits := types.DefaultRiskLimits()
	limits.MaxOpenPositions = 1
	mgr, mon, _, _ := newFixture(t, limits)

	mon.Observe(context.Background(), types.PortfolioSnapshot{
		TotalEquity:   dec("10000"),
		OpenPositions: []types.Position{{Symbol: "ETHUSDT"}},
		Timestamp:     time.Now().UTC(),
	})

	order, reason := mgr.Evaluate(buySignal())
	require.Nil(t, order)
	require.Contains(t, reason, "open positions at limit")

	// Closing signals pass the guard even at the limit.
	sig := buySignal()
	sig.Action = types.ActionCloseLong
	order, _ = mgr.Evaluate(sig)
	require.NotNil(t, order)
	require.Equal(t, types.SideSell, order.Side)
}

func TestRiskRewardGuard(t *testing.T) {
	mgr, _, _, _ := newFixture(t, types.DefaultRiskLimits())

	sig := buySignal()
	sig.TakeProfit = decPtr("50500") // rr = 500/1000 = 0.5 < 1.5
	order, reason := mgr.Evaluate(sig)
	require.Nil(t, order)
	require.Contains(t, reason, "risk/reward")

	// Missing take-profit skips the gate.
	sig = buySignal()
	sig.TakeProfit = nil
	order, _ = mgr.Evaluate(sig)
	require.NotNil(t, order)
}

func TestSizerMinimumUnitAndSteps(t *testing.T) {
	s := NewSizer(map[string]decimal.Decimal{"BTCUSDT": dec("0.01")})

	sig := buySignal() // budget 100, dist 1000 -> 0.1
	qty := s.Quantity(sig, dec("10000"), 1.0)
	require.True(t, qty.Equal(dec("0.1")), "qty %s", qty)

	// Tiny equity floors below the minimum unit and is clamped up.
	qty = s.Quantity(sig, dec("100"), 1.0)
	require.True(t, qty.Equal(dec("0.001")), "qty %s", qty)

	// Requested risk below the cap wins; above the cap is capped.
	sig.RequestedRiskPercent = 0.5
	qty = s.Quantity(sig, dec("10000"), 1.0)
	require.True(t, qty.Equal(dec("0.05")), "qty %s", qty)
	sig.RequestedRiskPercent = 5
	qty = s.Quantity(sig, dec("10000"), 1.0)
	require.True(t, qty.Equal(dec("0.1")), "qty %s", qty)

	// Zero stop distance sizes to zero.
	sig = buySignal()
	sig.StopLoss = decPtr("50000")
	require.True(t, s.Quantity(sig, dec("10000"), 1.0).IsZero())
}

func TestSizerWithoutStopUsesNotional(t *testing.T) {
	s := NewSizer(nil)
	sig := buySignal()
	sig.StopLoss = nil
	// budget 100 / price 50000 = 0.002
	qty := s.Quantity(sig, dec("10000"), 1.0)
	require.True(t, qty.Equal(dec("0.002")), "qty %s", qty)
}

func TestDrawdownKillSwitch(t *testing.T) {
	limits := types.DefaultRiskLimits()
	limits.MaxDrawdownPercent = 5.0
	mgr, mon, ks, bus := newFixture(t, limits)

	fired := make(chan types.KillSwitchEvent, 2)
	bus.Subscribe(events.TopicKillSwitch, func(_ context.Context, ev events.Envelope) error {
		var e types.KillSwitchEvent
		if err := events.DecodePayload(ev, &e); err != nil {
			return err
		}
		fired <- e
		return nil
	})

	ctx := context.Background()
	mon.Observe(ctx, types.PortfolioSnapshot{TotalEquity: dec("10000"), Timestamp: time.Now().UTC()})
	require.False(t, ks.Active())

	// 6% drawdown against the 10000 peak.
	mon.Observe(ctx, types.PortfolioSnapshot{TotalEquity: dec("9400"), Timestamp: time.Now().UTC()})
	require.True(t, ks.Active())

	select {
	case e := <-fired:
		require.True(t, e.Active)
		require.Contains(t, e.Reason, "drawdown")
		require.InDelta(t, 6.0, e.DrawdownPercent, 0.01)
	case <-time.After(3 * time.Second):
		t.Fatal("kill switch event never published")
	}

	// Further breaches while active stay silent.
	mon.Observe(ctx, types.PortfolioSnapshot{TotalEquity: dec("9000"), Timestamp: time.Now().UTC()})
	select {
	case <-fired:
		t.Fatal("second activation published")
	case <-time.After(100 * time.Millisecond):
	}

	// The next signal is rejected with a kill switch alert.
	order, reason := mgr.Evaluate(buySignal())
	require.Nil(t, order)
	require.Contains(t, reason, "Kill switch")
}

func TestConsecutiveLosingSnapshots(t *testing.T) {
	limits := types.DefaultRiskLimits()
	limits.MaxDrawdownPercent = 50 // keep the drawdown condition quiet
	_, mon, ks, _ := newFixture(t, limits)

	ctx := context.Background()
	equities := []string{"10000", "9990", "9980", "9970"}
	for i, e := range equities {
		mon.Observe(ctx, types.PortfolioSnapshot{TotalEquity: dec(e), Timestamp: time.Now().UTC()})
		if i < 3 {
			require.False(t, ks.Active(), "activated after snapshot %d", i)
		}
	}
	require.True(t, ks.Active())
}

func TestDeactivateClearsPeak(t *testing.T) {
	limits := types.DefaultRiskLimits()
	limits.MaxDrawdownPercent = 5.0
	_, mon, ks, _ := newFixture(t, limits)

	ctx := context.Background()
	mon.Observe(ctx, types.PortfolioSnapshot{TotalEquity: dec("10000"), Timestamp: time.Now().UTC()})
	mon.Observe(ctx, types.PortfolioSnapshot{TotalEquity: dec("9000"), Timestamp: time.Now().UTC()})
	require.True(t, ks.Active())

	ks.Deactivate(ctx, "operator reset")
	require.False(t, ks.Active())
	require.InDelta(t, 0.0, mon.Drawdown(), 1e-9) // peak re-anchored at current equity

	// Equity holding steady does not re-trip.
	mon.Observe(ctx, types.PortfolioSnapshot{TotalEquity: dec("9000"), Timestamp: time.Now().UTC()})
	require.False(t, ks.Active())
}

func TestMonitorEvaluateReadsCache(t *testing.T) {
	bus := events.NewLocalBus(zerolog.Nop())
	defer bus.Close()
	mem := cache.NewMemory()
	lim := NewLimits(types.DefaultRiskLimits())
	ks := NewKillSwitch(bus, zerolog.Nop())
	mon := NewMonitor(mem, lim, ks, dec("10000"), zerolog.Nop())

	snap := types.PortfolioSnapshot{TotalEquity: dec("12000"), Timestamp: time.Now().UTC()}
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, mem.Set(context.Background(), cache.PortfolioSnapshotKey, string(raw), cache.SnapshotTTL))

	mon.Evaluate(context.Background())
	require.True(t, mon.Equity().Equal(dec("12000")))
}

func TestLimitsLockFreeSwap(t *testing.T) {
	lim := NewLimits(types.DefaultRiskLimits())
	l := lim.Load()
	require.Equal(t, 5, l.MaxOpenPositions)
	l.MaxOpenPositions = 9
	lim.Store(l)
	require.Equal(t, 9, lim.Load().MaxOpenPositions)
}
