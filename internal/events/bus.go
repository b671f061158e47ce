// Package events implements the pipeline's topic-based event bus.
//
// Two implementations share one contract: the in-process Bus used inside a
// single service (and by tests, with exactly-once delivery), and the
// redis-backed RemoteBus used for cross-service fan-out (at-least-once).
// Both deliver per-topic FIFO from a single publisher and isolate handler
// failures from publishers and from other subscribers.
package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes one envelope. A returned error is logged with the
// envelope's correlation id and the event is dropped for that subscriber.
// Handlers must not block on unrelated topics; each subscriber is drained
// by its own dispatch goroutine, so a slow handler delays other subscribers
// of the same topic by at most the one event currently in flight.
type Handler func(ctx context.Context, ev Envelope) error

// Bus is the publish side contract shared by the local and remote buses.
type Bus interface {
	Publish(ctx context.Context, ev Envelope) error
	Subscribe(topic Topic, h Handler)
}

// LocalBus dispatches events to in-process subscribers.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[Topic][]*subscriber
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

type subscriber struct {
	handler Handler

	mu      sync.Mutex
	cond    *sync.Cond
	pending []Envelope
	done    bool
}

// NewLocalBus creates an in-process bus whose dispatch goroutines live until
// Close is called.
func NewLocalBus(log zerolog.Logger) *LocalBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalBus{
		subs:   make(map[Topic][]*subscriber),
		log:    log.With().Str("component", "bus").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers a handler for a topic. Multiple subscribers per topic
// are supported; each gets its own dispatch goroutine and FIFO queue.
func (b *LocalBus) Subscribe(topic Topic, h Handler) {
	s := &subscriber{handler: h}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs[topic] = append(b.subs[topic], s)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.dispatch(s)
}

// Publish enqueues the envelope for every subscriber of its topic and
// returns after local dispatch. Handler errors and panics never propagate
// back to the publisher.
func (b *LocalBus) Publish(_ context.Context, ev Envelope) error {
	b.mu.RLock()
	// Snapshot so concurrent Subscribe calls do not race the fan-out.
	targets := make([]*subscriber, len(b.subs[ev.Topic]))
	copy(targets, b.subs[ev.Topic])
	b.mu.RUnlock()

	for _, s := range targets {
		s.mu.Lock()
		if !s.done {
			s.pending = append(s.pending, ev)
			s.cond.Signal()
		}
		s.mu.Unlock()
	}
	return nil
}

func (b *LocalBus) dispatch(s *subscriber) {
	defer b.wg.Done()
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.done {
			s.cond.Wait()
		}
		if s.done && len(s.pending) == 0 {
			s.mu.Unlock()
			return
		}
		ev := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		b.deliver(s, ev)
	}
}

func (b *LocalBus) deliver(s *subscriber, ev Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("topic", string(ev.Topic)).
				Str("correlationId", ev.CorrelationID).
				Msg("handler panicked; event dropped for this subscriber")
		}
	}()
	if err := s.handler(b.ctx, ev); err != nil {
		b.log.Error().
			Err(err).
			Str("topic", string(ev.Topic)).
			Str("correlationId", ev.CorrelationID).
			Msg("handler failed; event dropped for this subscriber")
	}
}

// Close wakes every dispatcher, lets queued events drain, and waits for the
// goroutines to exit.
func (b *LocalBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscriber
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.mu.Unlock()

	for _, s := range all {
		s.mu.Lock()
		s.done = true
		s.cond.Signal()
		s.mu.Unlock()
	}
	b.wg.Wait()
	b.cancel()
}
