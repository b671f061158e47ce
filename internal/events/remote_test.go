package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"tradepipe/pkg/circuit"
)

// fakeBroker emulates the per-stream consumer-group slice of redis used by
// RemoteBus: entries persist until read, groups track their own cursor, and
// acks are recorded.
type fakeBroker struct {
	mu      sync.Mutex
	seq     int
	entries map[string][]redis.XMessage
	cursors map[string]int // group -> index into its stream
	streams map[string]string
	acked   map[string][]string
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		entries: make(map[string][]redis.XMessage),
		cursors: make(map[string]int),
		streams: make(map[string]string),
		acked:   make(map[string][]string),
	}
}

func (f *fakeBroker) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("%d-0", f.seq)
	f.entries[a.Stream] = append(f.entries[a.Stream], redis.XMessage{ID: id, Values: a.Values.(map[string]interface{})})
	return redis.NewStringResult(id, nil)
}

func (f *fakeBroker) XGroupCreateMkStream(_ context.Context, stream, group, start string) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[group] = stream
	if start == "$" {
		f.cursors[group] = len(f.entries[stream])
	} else {
		f.cursors[group] = 0
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeBroker) XReadGroup(_ context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	f.mu.Lock()
	stream := a.Streams[0]
	cur := f.cursors[a.Group]
	pending := f.entries[stream][cur:]
	if len(pending) == 0 {
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond) // stand-in for the blocking read
		return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
	}
	msgs := make([]redis.XMessage, len(pending))
	copy(msgs, pending)
	f.cursors[a.Group] = cur + len(msgs)
	f.mu.Unlock()
	return redis.NewXStreamSliceCmdResult([]redis.XStream{{Stream: stream, Messages: msgs}}, nil)
}

func (f *fakeBroker) XAck(_ context.Context, stream, group string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked[group] = append(f.acked[group], ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeBroker) ackCount(group string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked[group])
}

func (f *fakeBroker) streamLen(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries[stream])
}

func remoteTestBus(f *fakeBroker) *RemoteBus {
	br := circuit.NewBreaker("bus", 3, time.Minute)
	return newRemoteBus(f, br, "test", zerolog.Nop())
}

func TestRemoteBusQueuesEventsUntilConsumed(t *testing.T) {
	f := newFakeBroker()
	bus := remoteTestBus(f)
	defer bus.Close()

	got := make(chan Envelope, 8)
	bus.Subscribe(TopicStrategySignal, func(_ context.Context, ev Envelope) error {
		got <- ev
		return nil
	})

	// A burst lands in the stream; nothing may be lost even if the consumer
	// has not polled yet.
	for i := 0; i < 3; i++ {
		ev := NewEnvelope(TopicStrategySignal, i, "test", fmt.Sprintf("corr-%d", i))
		require.NoError(t, bus.Publish(context.Background(), ev))
	}
	require.Equal(t, 3, f.streamLen("bus:strategy.signal"))

	for i := 0; i < 3; i++ {
		select {
		case ev := <-got:
			require.Equal(t, fmt.Sprintf("corr-%d", i), ev.CorrelationID, "events out of order")
		case <-time.After(3 * time.Second):
			t.Fatalf("event %d never delivered", i)
		}
	}
}

func TestRemoteBusAcksOnlyAfterHandlerRan(t *testing.T) {
	f := newFakeBroker()
	bus := remoteTestBus(f)
	defer bus.Close()

	release := make(chan struct{})
	entered := make(chan struct{})
	bus.Subscribe(TopicOrdersApproved, func(_ context.Context, _ Envelope) error {
		close(entered)
		<-release
		return nil
	})

	require.NoError(t, bus.Publish(context.Background(), NewEnvelope(TopicOrdersApproved, "o", "test", "")))

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("handler never invoked")
	}
	// While the handler is in flight the entry stays pending in the group.
	require.Equal(t, 0, f.ackCount("test-1"))

	close(release)
	require.Eventually(t, func() bool {
		return f.ackCount("test-1") == 1
	}, 3*time.Second, 10*time.Millisecond, "entry not acked after the handler returned")
}

func TestRemoteBusSubscriberStartsAtStreamTail(t *testing.T) {
	f := newFakeBroker()
	bus := remoteTestBus(f)
	defer bus.Close()

	// Published before any subscription: stays in the stream but is outside
	// every later group's range.
	require.NoError(t, bus.Publish(context.Background(), NewEnvelope(TopicRiskAlerts, "old", "test", "corr-old")))

	got := make(chan Envelope, 4)
	bus.Subscribe(TopicRiskAlerts, func(_ context.Context, ev Envelope) error {
		got <- ev
		return nil
	})
	require.NoError(t, bus.Publish(context.Background(), NewEnvelope(TopicRiskAlerts, "new", "test", "corr-new")))

	select {
	case ev := <-got:
		require.Equal(t, "corr-new", ev.CorrelationID)
	case <-time.After(3 * time.Second):
		t.Fatal("post-subscribe event never delivered")
	}
	select {
	case ev := <-got:
		t.Fatalf("unexpected replay of pre-subscribe event %s", ev.CorrelationID)
	case <-time.After(100 * time.Millisecond):
	}
}
