package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tradepipe/pkg/circuit"
)

const (
	// streamPrefix namespaces bus topics inside the broker so they never
	// collide with cache pub/sub channels like market:ticks.
	streamPrefix = "bus:"

	// envelopeField is the stream entry field carrying the JSON envelope.
	envelopeField = "envelope"

	// maxStreamLen bounds each per-topic stream (approximate trim).
	maxStreamLen = 10000

	// backlogCap bounds the publisher-side buffer while the transport
	// circuit is open; overflow drops the oldest event.
	backlogCap = 100

	drainInterval = 500 * time.Millisecond
	readBlock     = time.Second
	readCount     = 64
)

// streamBroker is the slice of the redis client the bus uses. Tests fake it
// with the go-redis cmd result constructors.
type streamBroker interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// RemoteBus is the broker-backed bus implementation. Events are JSON
// envelopes appended to a per-topic redis stream; each subscriber reads
// through its own consumer group and acknowledges only after the handler
// ran, so delivery is at-least-once — an event stays pending in the group
// until it is consumed, surviving subscriber disconnects. When the
// transport circuit opens, publishes are buffered locally (bounded,
// drop-oldest) and drained once the broker recovers.
type RemoteBus struct {
	rdb     streamBroker
	breaker *circuit.Breaker
	source  string
	log     zerolog.Logger

	mu      sync.Mutex
	backlog []Envelope
	subSeq  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRemoteBus wires a redis client to the bus contract. The breaker is
// shared with the health endpoint so broker trouble shows up as degraded.
func NewRemoteBus(rdb redis.UniversalClient, breaker *circuit.Breaker, source string, log zerolog.Logger) *RemoteBus {
	return newRemoteBus(rdb, breaker, source, log)
}

func newRemoteBus(rdb streamBroker, breaker *circuit.Breaker, source string, log zerolog.Logger) *RemoteBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &RemoteBus{
		rdb:     rdb,
		breaker: breaker,
		source:  source,
		log:     log.With().Str("component", "remote-bus").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
	b.wg.Add(1)
	go b.drainLoop()
	return b
}

// Publish appends the envelope to the per-topic stream. While the circuit
// is open the event goes to the bounded backlog instead; the caller never
// blocks on broker recovery.
func (b *RemoteBus) Publish(ctx context.Context, ev Envelope) error {
	if err := b.breaker.Allow(); err != nil {
		b.buffer(ev)
		return nil
	}
	if err := b.send(ctx, ev); err != nil {
		b.breaker.Failure()
		b.buffer(ev)
		b.log.Warn().Err(err).
			Str("topic", string(ev.Topic)).
			Str("correlationId", ev.CorrelationID).
			Msg("publish failed; event buffered")
		return nil
	}
	b.breaker.Success()
	return nil
}

func (b *RemoteBus) send(ctx context.Context, ev Envelope) error {
	raw, err := ev.Encode()
	if err != nil {
		return err
	}
	return b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamPrefix + string(ev.Topic),
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{envelopeField: string(raw)},
	}).Err()
}

func (b *RemoteBus) buffer(ev Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.backlog) >= backlogCap {
		b.backlog = b.backlog[1:]
	}
	b.backlog = append(b.backlog, ev)
}

// drainLoop retries the backlog whenever the breaker lets calls through
// again, preserving publish order.
func (b *RemoteBus) drainLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.drainOnce()
		}
	}
}

func (b *RemoteBus) drainOnce() {
	for {
		b.mu.Lock()
		if len(b.backlog) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.backlog[0]
		b.mu.Unlock()

		if err := b.breaker.Allow(); err != nil {
			return
		}
		if err := b.send(b.ctx, ev); err != nil {
			b.breaker.Failure()
			return
		}
		b.breaker.Success()

		b.mu.Lock()
		// The head may have been evicted by overflow while we were sending;
		// only pop when it is still the event we just delivered.
		if len(b.backlog) > 0 && b.backlog[0].Timestamp.Equal(ev.Timestamp) {
			b.backlog = b.backlog[1:]
		}
		b.mu.Unlock()
	}
}

// Subscribe registers a consumer group on the topic's stream and consumes
// it on a dedicated goroutine. Events are acknowledged after the handler
// runs; an unacked event stays pending in the group and is not lost to a
// crash mid-delivery. Malformed entries are logged, acked and skipped.
func (b *RemoteBus) Subscribe(topic Topic, h Handler) {
	stream := streamPrefix + string(topic)

	b.mu.Lock()
	b.subSeq++
	group := fmt.Sprintf("%s-%d", b.source, b.subSeq)
	b.mu.Unlock()

	// "$" starts the group at the stream tail: only events published after
	// the subscription, like the in-process bus.
	if err := b.rdb.XGroupCreateMkStream(b.ctx, stream, group, "$").Err(); err != nil &&
		!strings.Contains(err.Error(), "BUSYGROUP") {
		b.log.Error().Err(err).Str("topic", string(topic)).Msg("consumer group create failed")
		return
	}

	b.wg.Add(1)
	go b.consume(stream, group, topic, h)
}

func (b *RemoteBus) consume(stream, group string, topic Topic, h Handler) {
	defer b.wg.Done()
	consumer := group + "-0"
	for {
		if b.ctx.Err() != nil {
			return
		}
		res, err := b.rdb.XReadGroup(b.ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue // block timeout, nothing new
			}
			if b.ctx.Err() != nil {
				return
			}
			b.log.Warn().Err(err).Str("topic", string(topic)).Msg("stream read failed")
			select {
			case <-b.ctx.Done():
				return
			case <-time.After(readBlock):
			}
			continue
		}

		for _, xs := range res {
			for _, msg := range xs.Messages {
				raw, _ := msg.Values[envelopeField].(string)
				ev, decErr := DecodeEnvelope([]byte(raw))
				if decErr != nil {
					b.log.Warn().Err(decErr).Str("topic", string(topic)).Msg("dropping malformed envelope")
					b.ack(stream, group, msg.ID)
					continue
				}
				b.deliver(ev, h)
				b.ack(stream, group, msg.ID)
			}
		}
	}
}

func (b *RemoteBus) ack(stream, group, id string) {
	if err := b.rdb.XAck(b.ctx, stream, group, id).Err(); err != nil && b.ctx.Err() == nil {
		b.log.Warn().Err(err).Str("stream", stream).Str("id", id).Msg("ack failed")
	}
}

func (b *RemoteBus) deliver(ev Envelope, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("topic", string(ev.Topic)).
				Str("correlationId", ev.CorrelationID).
				Msg("handler panicked")
		}
	}()
	if err := h(b.ctx, ev); err != nil {
		b.log.Error().
			Err(err).
			Str("topic", string(ev.Topic)).
			Str("correlationId", ev.CorrelationID).
			Msg("handler failed; event dropped for this subscriber")
	}
}

// Backlogged returns the number of buffered events, for health reporting.
func (b *RemoteBus) Backlogged() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.backlog)
}

// Close stops the drain loop and all subscriptions.
func (b *RemoteBus) Close() {
	b.cancel()
	b.wg.Wait()
}
