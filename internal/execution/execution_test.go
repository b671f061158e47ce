package execution

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tradepipe/internal/events"
	"tradepipe/pkg/cache"
	"tradepipe/pkg/circuit"
	"tradepipe/pkg/exchange/binance"
	"tradepipe/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func approvedOrder(id string) types.Order {
	return types.Order{
		ID:            id,
		Symbol:        "BTCUSDT",
		Side:          types.SideBuy,
		Type:          types.OrderTypeMarket,
		Quantity:      dec("0.1"),
		Status:        types.StatusNew,
		CorrelationID: "corr-9",
		CreatedAt:     time.Now().UTC(),
	}
}

func cacheWithPrice(t *testing.T, symbol, price string) *cache.Memory {
	t.Helper()
	mem := cache.NewMemory()
	require.NoError(t, mem.Set(context.Background(), cache.LatestPriceKey(symbol), price, cache.LatestPriceTTL))
	return mem
}

func TestPaperFillsAtCachedPrice(t *testing.T) {
	mem := cacheWithPrice(t, "BTCUSDT", "50000.00000000")
	paper := NewPaper(mem, 0, zerolog.Nop())

	placed, err := paper.PlaceOrder(context.Background(), approvedOrder("o-1"))
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, placed.Status)
	require.True(t, placed.FilledPrice.Equal(dec("50000")), "price %s", placed.FilledPrice)
	require.True(t, placed.FilledQuantity.Equal(dec("0.1")))
	require.True(t, strings.HasPrefix(placed.ExchangeOrderID, "PAPER-"), placed.ExchangeOrderID)

	got, err := paper.QueryOrder(context.Background(), "BTCUSDT", placed.ExchangeOrderID)
	require.NoError(t, err)
	require.Equal(t, placed.ExchangeOrderID, got.ExchangeOrderID)
}

func TestPaperFailsWithoutCachedPrice(t *testing.T) {
	paper := NewPaper(cache.NewMemory(), 0, zerolog.Nop())
	_, err := paper.PlaceOrder(context.Background(), approvedOrder("o-2"))
	require.Error(t, err)
	require.ErrorIs(t, err, cache.ErrMiss)
}

func TestPaperCancelIsTerminal(t *testing.T) {
	mem := cacheWithPrice(t, "BTCUSDT", "50000")
	paper := NewPaper(mem, 0, zerolog.Nop())
	placed, err := paper.PlaceOrder(context.Background(), approvedOrder("o-3"))
	require.NoError(t, err)

	// Cancelling a filled order must not regress it.
	require.NoError(t, paper.CancelOrder(context.Background(), "BTCUSDT", placed.ExchangeOrderID))
	got, err := paper.QueryOrder(context.Background(), "BTCUSDT", placed.ExchangeOrderID)
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, got.Status)

	require.Error(t, paper.CancelOrder(context.Background(), "BTCUSDT", "PAPER-missing"))
}

func TestTrackerPositionLifecycle(t *testing.T) {
	tr := NewTracker()

	buy := approvedOrder("o-4")
	buy.ApplyFill(dec("0.1"), dec("50000"), time.Now().UTC())
	pos := tr.ApplyFill(buy)
	require.NotNil(t, pos)
	require.Equal(t, types.PositionLong, pos.Side)
	require.True(t, pos.EntryPrice.Equal(dec("50000")))

	// Averaging in at a higher price.
	buy2 := approvedOrder("o-5")
	buy2.ApplyFill(dec("0.1"), dec("52000"), time.Now().UTC())
	pos = tr.ApplyFill(buy2)
	require.NotNil(t, pos)
	require.True(t, pos.Quantity.Equal(dec("0.2")))
	require.True(t, pos.EntryPrice.Equal(dec("51000")), "entry %s", pos.EntryPrice)

	// Selling everything realises PnL and closes the position.
	sell := approvedOrder("o-6")
	sell.Side = types.SideSell
	sell.Quantity = dec("0.2")
	sell.ApplyFill(dec("0.2"), dec("53000"), time.Now().UTC())
	pos = tr.ApplyFill(sell)
	require.Nil(t, pos)
	require.True(t, tr.Realized().Equal(dec("400")), "realized %s", tr.Realized()) // 2000 * 0.2
	require.Empty(t, tr.Positions())
}

func TestTrackerCumulativeFillBooksOnlyDelta(t *testing.T) {
	tr := NewTracker()

	o := approvedOrder("o-16")
	o.Quantity = dec("1")
	o.ApplyFill(dec("0.4"), dec("50000"), time.Now().UTC())
	pos := tr.ApplyFill(o)
	require.NotNil(t, pos)
	require.True(t, pos.Quantity.Equal(dec("0.4")))

	// The completion report carries the cumulative quantity and cumulative
	// average price; only the remaining 0.6 may be booked.
	o.ApplyFill(dec("1"), dec("50600"), time.Now().UTC())
	require.Equal(t, types.StatusFilled, o.Status)
	pos = tr.ApplyFill(o)
	require.NotNil(t, pos)
	require.True(t, pos.Quantity.Equal(dec("1")), "quantity %s", pos.Quantity)
	// Delta leg: (50600*1 - 50000*0.4)/0.6 = 51000; VWAP entry stays 50600.
	require.True(t, pos.EntryPrice.Equal(dec("50600")), "entry %s", pos.EntryPrice)
	require.True(t, tr.Realized().IsZero())

	// A duplicate terminal report books nothing further.
	require.Nil(t, tr.ApplyFill(o))
	got := tr.Positions()
	require.Len(t, got, 1)
	require.True(t, got[0].Quantity.Equal(dec("1")))
}

type partialFillAdapter struct{}

func (partialFillAdapter) Name() string { return "partial" }

func (partialFillAdapter) PlaceOrder(_ context.Context, o types.Order) (types.Order, error) {
	o.ExchangeOrderID = "PART-1"
	o.ApplyFill(dec("0.4"), dec("50000"), time.Now().UTC())
	return o, nil
}

func (partialFillAdapter) QueryOrder(_ context.Context, symbol, exchangeOrderID string) (types.Order, error) {
	o := types.Order{Symbol: symbol, ExchangeOrderID: exchangeOrderID}
	o.Quantity = dec("1")
	o.ApplyFill(dec("1"), dec("50000"), time.Now().UTC())
	return o, nil
}

func (partialFillAdapter) CancelOrder(context.Context, string, string) error { return nil }

func TestPartialThenCompleteFillNotDoubleCounted(t *testing.T) {
	bus := events.NewLocalBus(zerolog.Nop())
	defer bus.Close()

	mp := NewModeProvider(types.ModePaper, zerolog.Nop())
	eng := NewEngine(bus, mp, nil, partialFillAdapter{}, NewTracker(), nil, false, zerolog.Nop())
	eng.Start()

	o := approvedOrder("o-17")
	o.Quantity = dec("1")
	require.NoError(t, bus.Publish(context.Background(),
		events.NewEnvelope(events.TopicOrdersApproved, o, "risk", o.CorrelationID)))

	require.Eventually(t, func() bool {
		pos := eng.Tracker().Positions()
		return len(pos) == 1 && pos[0].Quantity.Equal(dec("0.4"))
	}, 3*time.Second, 10*time.Millisecond, "partial leg not booked")

	mon := NewPendingMonitor(eng, time.Hour, zerolog.Nop())
	mon.Sweep(context.Background())

	pos := eng.Tracker().Positions()
	require.Len(t, pos, 1)
	require.True(t, pos[0].Quantity.Equal(dec("1")), "position quantity %s, want the order quantity", pos[0].Quantity)
	require.True(t, eng.Tracker().Realized().IsZero())
	got, _ := eng.Tracker().Get("o-17")
	require.Equal(t, types.StatusFilled, got.Status)
}

func TestTrackerShortPnL(t *testing.T) {
	tr := NewTracker()
	sell := approvedOrder("o-7")
	sell.Side = types.SideSell
	sell.ApplyFill(dec("0.1"), dec("50000"), time.Now().UTC())
	pos := tr.ApplyFill(sell)
	require.NotNil(t, pos)
	require.Equal(t, types.PositionShort, pos.Side)

	buy := approvedOrder("o-8")
	buy.ApplyFill(dec("0.1"), dec("49000"), time.Now().UTC())
	pos = tr.ApplyFill(buy)
	require.Nil(t, pos)
	require.True(t, tr.Realized().Equal(dec("100")), "realized %s", tr.Realized())
}

func newEngineFixture(t *testing.T, live *Live, mode types.TradingMode) (*Engine, *events.LocalBus, *cache.Memory, chan events.Envelope) {
	t.Helper()
	bus := events.NewLocalBus(zerolog.Nop())
	t.Cleanup(bus.Close)
	mem := cacheWithPrice(t, "BTCUSDT", "50000")

	executed := make(chan events.Envelope, 16)
	bus.Subscribe(events.TopicOrdersExecuted, func(_ context.Context, ev events.Envelope) error {
		executed <- ev
		return nil
	})

	mp := NewModeProvider(mode, zerolog.Nop())
	paper := NewPaper(mem, 0, zerolog.Nop())
	eng := NewEngine(bus, mp, live, paper, NewTracker(), nil, true, zerolog.Nop())
	eng.Start()
	return eng, bus, mem, executed
}

func TestEngineExecutesApprovedOrder(t *testing.T) {
	eng, bus, _, executed := newEngineFixture(t, nil, types.ModePaper)

	o := approvedOrder("o-9")
	require.NoError(t, bus.Publish(context.Background(),
		events.NewEnvelope(events.TopicOrdersApproved, o, "risk", o.CorrelationID)))

	select {
	case ev := <-executed:
		var got types.Order
		require.NoError(t, events.DecodePayload(ev, &got))
		require.Equal(t, types.StatusFilled, got.Status)
		require.Equal(t, "corr-9", got.CorrelationID)
		require.True(t, strings.HasPrefix(got.ExchangeOrderID, "PAPER-"))
	case <-time.After(3 * time.Second):
		t.Fatal("no executed event")
	}

	require.Eventually(t, func() bool {
		return len(eng.Tracker().Positions()) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

type failingClient struct {
	mu    sync.Mutex
	calls int
}

func (c *failingClient) PlaceOrder(context.Context, types.Order) (binance.OrderFill, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return binance.OrderFill{}, &binance.APIError{Status: 503, Message: "unavailable"}
}

func (c *failingClient) QueryOrder(context.Context, string, string) (binance.OrderFill, error) {
	return binance.OrderFill{}, &binance.APIError{Status: 503}
}

func (c *failingClient) CancelOrder(context.Context, string, string) error {
	return &binance.APIError{Status: 503}
}

func TestLiveCircuitFallsBackToPaper(t *testing.T) {
	br := circuit.NewBreaker("live", 5, time.Minute)
	live := NewLive(&failingClient{}, br, zerolog.Nop())
	eng, bus, _, executed := newEngineFixture(t, live, types.ModeLive)

	degraded := make(chan types.SystemHealth, 2)
	bus.Subscribe(events.TopicSystemHealth, func(_ context.Context, ev events.Envelope) error {
		var h types.SystemHealth
		if err := events.DecodePayload(ev, &h); err != nil {
			return err
		}
		degraded <- h
		return nil
	})

	ctx := context.Background()
	// Four failures warm the breaker without opening it; each order fails.
	for i := 0; i < 4; i++ {
		o := approvedOrder("warm")
		_, err := live.PlaceOrder(ctx, o)
		require.Error(t, err)
	}

	// The fifth failure trips the threshold; the engine flips to paper and
	// the order still fills.
	o := approvedOrder("o-10")
	require.NoError(t, bus.Publish(ctx, events.NewEnvelope(events.TopicOrdersApproved, o, "risk", o.CorrelationID)))

	select {
	case ev := <-executed:
		var got types.Order
		require.NoError(t, events.DecodePayload(ev, &got))
		require.Equal(t, types.StatusFilled, got.Status)
		require.True(t, strings.HasPrefix(got.ExchangeOrderID, "PAPER-"))
	case <-time.After(3 * time.Second):
		t.Fatal("no executed event after fallback")
	}

	select {
	case h := <-degraded:
		require.Equal(t, types.HealthDegraded, h.Status)
		require.Equal(t, "execution.live", h.Component)
	case <-time.After(3 * time.Second):
		t.Fatal("no degraded health event")
	}
	require.Equal(t, types.ModePaper, eng.mode.Mode())

	// Subsequent orders go straight to paper.
	o2 := approvedOrder("o-11")
	require.NoError(t, bus.Publish(ctx, events.NewEnvelope(events.TopicOrdersApproved, o2, "risk", o2.CorrelationID)))
	select {
	case ev := <-executed:
		var got types.Order
		require.NoError(t, events.DecodePayload(ev, &got))
		require.True(t, strings.HasPrefix(got.ExchangeOrderID, "PAPER-"))
	case <-time.After(3 * time.Second):
		t.Fatal("no executed event in paper mode")
	}
}

func TestFailedPlacementRaisesAlert(t *testing.T) {
	bus := events.NewLocalBus(zerolog.Nop())
	defer bus.Close()

	alerts := make(chan types.RiskAlert, 2)
	bus.Subscribe(events.TopicRiskAlerts, func(_ context.Context, ev events.Envelope) error {
		var a types.RiskAlert
		if err := events.DecodePayload(ev, &a); err != nil {
			return err
		}
		alerts <- a
		return nil
	})

	// Paper adapter with an empty cache fails every order.
	mp := NewModeProvider(types.ModePaper, zerolog.Nop())
	paper := NewPaper(cache.NewMemory(), 0, zerolog.Nop())
	eng := NewEngine(bus, mp, nil, paper, NewTracker(), nil, true, zerolog.Nop())
	eng.Start()

	o := approvedOrder("o-12")
	require.NoError(t, bus.Publish(context.Background(),
		events.NewEnvelope(events.TopicOrdersApproved, o, "risk", o.CorrelationID)))

	select {
	case a := <-alerts:
		require.InDelta(t, 0.8, a.Severity, 1e-9)
		require.Equal(t, "BTCUSDT", a.Symbol)
	case <-time.After(3 * time.Second):
		t.Fatal("no risk alert")
	}

	require.Eventually(t, func() bool {
		got, ok := eng.Tracker().Get("o-12")
		return ok && got.Status == types.StatusRejected
	}, 3*time.Second, 10*time.Millisecond)
}

func TestPendingMonitorCancelsStaleOrders(t *testing.T) {
	bus := events.NewLocalBus(zerolog.Nop())
	defer bus.Close()

	executed := make(chan events.Envelope, 4)
	bus.Subscribe(events.TopicOrdersExecuted, func(_ context.Context, ev events.Envelope) error {
		executed <- ev
		return nil
	})

	fake := NewFake()
	mp := NewModeProvider(types.ModePaper, zerolog.Nop())
	eng := NewEngine(bus, mp, nil, fake, NewTracker(), nil, false, zerolog.Nop())

	stale := approvedOrder("o-13")
	stale.ExchangeOrderID = "FAKE-OLD"
	stale.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
	eng.tracker.Upsert(stale)

	mon := NewPendingMonitor(eng, 30*time.Second, zerolog.Nop())
	mon.Sweep(context.Background())

	require.Equal(t, []string{"FAKE-OLD"}, fake.Canceled)
	got, ok := eng.tracker.Get("o-13")
	require.True(t, ok)
	require.Equal(t, types.StatusCanceled, got.Status)

	select {
	case ev := <-executed:
		var o types.Order
		require.NoError(t, events.DecodePayload(ev, &o))
		require.Equal(t, types.StatusCanceled, o.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("cancel transition not published")
	}
}

func TestPendingMonitorPublishesTerminalRefresh(t *testing.T) {
	bus := events.NewLocalBus(zerolog.Nop())
	defer bus.Close()

	executed := make(chan events.Envelope, 4)
	bus.Subscribe(events.TopicOrdersExecuted, func(_ context.Context, ev events.Envelope) error {
		executed <- ev
		return nil
	})

	fake := NewFake() // QueryOrder reports Filled
	mp := NewModeProvider(types.ModePaper, zerolog.Nop())
	eng := NewEngine(bus, mp, nil, fake, NewTracker(), nil, false, zerolog.Nop())

	pending := approvedOrder("o-14")
	pending.ExchangeOrderID = "FAKE-1"
	eng.tracker.Upsert(pending)

	mon := NewPendingMonitor(eng, time.Hour, zerolog.Nop())
	mon.Sweep(context.Background())

	require.Equal(t, []string{"FAKE-1"}, fake.Queried)
	got, _ := eng.tracker.Get("o-14")
	require.Equal(t, types.StatusFilled, got.Status)

	select {
	case <-executed:
	case <-time.After(3 * time.Second):
		t.Fatal("fill transition not published")
	}
}

func TestSnapshotEquityMath(t *testing.T) {
	tr := NewTracker()
	buy := approvedOrder("o-15")
	buy.ApplyFill(dec("0.1"), dec("50000"), time.Now().UTC())
	tr.ApplyFill(buy)

	mem := cacheWithPrice(t, "BTCUSDT", "51000")
	pub := NewSnapshotPublisher(tr, mem, dec("10000"), zerolog.Nop())
	pub.PublishOnce(context.Background())

	snap := pub.Snapshot()
	// Unrealized: (51000-50000)*0.1 = 100.
	require.True(t, snap.TotalUnrealizedPnL.Equal(dec("100")), "unrealized %s", snap.TotalUnrealizedPnL)
	require.True(t, snap.TotalEquity.Equal(dec("10100")), "equity %s", snap.TotalEquity)
	require.Zero(t, snap.DrawdownPercent, "equity at its peak has no drawdown")
	require.Len(t, snap.OpenPositions, 1)

	raw, err := mem.Get(context.Background(), cache.PortfolioSnapshotKey)
	require.NoError(t, err)
	require.Contains(t, raw, `"totalEquity"`)

	// Mark the position down: equity 9900 against the 10100 peak.
	require.NoError(t, mem.Set(context.Background(), cache.LatestPriceKey("BTCUSDT"), "49000", cache.LatestPriceTTL))
	pub.PublishOnce(context.Background())
	snap = pub.Snapshot()
	require.True(t, snap.TotalEquity.Equal(dec("9900")), "equity %s", snap.TotalEquity)
	require.InDelta(t, 100*200.0/10100.0, snap.DrawdownPercent, 1e-9)
}

func TestModeProviderOnlyFlipsOnChange(t *testing.T) {
	mp := NewModeProvider(types.ModeLive, zerolog.Nop())
	require.Equal(t, types.ModeLive, mp.Mode())
	mp.Set(types.ModePaper)
	require.Equal(t, types.ModePaper, mp.Mode())
	mp.Set(types.ModePaper) // no-op
	require.Equal(t, types.ModePaper, mp.Mode())
}
