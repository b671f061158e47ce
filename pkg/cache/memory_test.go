package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemorySetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, LatestPriceKey("BTCUSDT"))
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, LatestPriceKey("BTCUSDT"), "50000.00000000", LatestPriceTTL))
	v, err := m.Get(ctx, LatestPriceKey("BTCUSDT"))
	require.NoError(t, err)
	require.Equal(t, "50000.00000000", v)

	require.NoError(t, m.Delete(ctx, LatestPriceKey("BTCUSDT")))
	_, err = m.Get(ctx, LatestPriceKey("BTCUSDT"))
	require.ErrorIs(t, err, ErrMiss)
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Now()
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "tick:latest:ETHUSDT", "{}", 5*time.Minute))

	now = now.Add(4 * time.Minute)
	_, err := m.Get(ctx, "tick:latest:ETHUSDT")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = m.Get(ctx, "tick:latest:ETHUSDT")
	require.ErrorIs(t, err, ErrMiss)
}

func TestMemoryPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ch := m.SubscribeChannel(TickChannel, 4)
	require.NoError(t, m.Publish(ctx, TickChannel, `{"symbol":"BTCUSDT"}`))

	select {
	case got := <-ch:
		require.Contains(t, got, "BTCUSDT")
	case <-time.After(time.Second):
		t.Fatal("no message on channel")
	}
}

func TestKeyNamespaces(t *testing.T) {
	require.Equal(t, "price:latest:BTCUSDT", LatestPriceKey("BTCUSDT"))
	require.Equal(t, "tick:latest:ETHUSDT", LatestTickKey("ETHUSDT"))
	require.Equal(t, "portfolio:snapshot", PortfolioSnapshotKey)
}
