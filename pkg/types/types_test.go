package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestOrderApplyFillMonotonic(t *testing.T) {
	now := time.Now()
	o := Order{
		ID:       "o1",
		Symbol:   "BTCUSDT",
		Side:     SideBuy,
		Type:     OrderTypeMarket,
		Quantity: d("1"),
		Status:   StatusNew,
	}

	o.ApplyFill(d("0.4"), d("50000"), now)
	require.Equal(t, StatusPartiallyFilled, o.Status)
	require.True(t, o.FilledQuantity.Equal(d("0.4")))

	// A stale lower fill never reduces the cumulative quantity.
	o.ApplyFill(d("0.2"), d("49000"), now)
	require.True(t, o.FilledQuantity.Equal(d("0.4")))

	o.ApplyFill(d("1"), d("50010"), now)
	require.Equal(t, StatusFilled, o.Status)

	// Terminal states are absorbing.
	o.ApplyFill(d("1.5"), d("50020"), now)
	require.Equal(t, StatusFilled, o.Status)
	require.True(t, o.FilledQuantity.Equal(d("1")))
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{StatusFilled, StatusCanceled, StatusRejected, StatusExpired}
	for _, s := range terminal {
		require.True(t, s.Terminal(), "status %s", s)
	}
	require.False(t, StatusNew.Terminal())
	require.False(t, StatusPartiallyFilled.Terminal())
}

func TestPositionMarkPrice(t *testing.T) {
	long := Position{Symbol: "ETHUSDT", Side: PositionLong, EntryPrice: d("3000"), Quantity: d("2")}
	long.MarkPrice(d("3100"))
	require.True(t, long.UnrealizedPnL.Equal(d("200")))

	short := Position{Symbol: "ETHUSDT", Side: PositionShort, EntryPrice: d("3000"), Quantity: d("2")}
	short.MarkPrice(d("3100"))
	require.True(t, short.UnrealizedPnL.Equal(d("-200")))
}

func TestTradeSignalJSONCamelCase(t *testing.T) {
	sl := d("49000")
	sig := TradeSignal{
		Symbol:        "BTCUSDT",
		Action:        ActionBuy,
		Price:         d("50000"),
		StopLoss:      &sl,
		Strategy:      "ma-cross",
		Confidence:    0.82,
		CorrelationID: "corr-1",
		Timestamp:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	raw, err := json.Marshal(sig)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Contains(t, m, "correlationId")
	require.Contains(t, m, "stopLoss")
	require.NotContains(t, m, "takeProfit")

	var back TradeSignal
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, sig.Action, back.Action)
	require.True(t, sig.Price.Equal(back.Price))
	require.True(t, back.StopLoss.Equal(sl))
}

func TestSignalActionOpens(t *testing.T) {
	require.True(t, ActionBuy.Opens())
	require.True(t, ActionSell.Opens())
	require.False(t, ActionCloseLong.Opens())
	require.False(t, ActionCloseShort.Opens())
}
