// Package circuit implements a consecutive-failure circuit breaker used by
// the websocket feed, the live order adapter and the remote bus transport.
package circuit

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when the breaker is rejecting calls.
var ErrOpen = errors.New("circuit: open")

// State is the breaker's tri-state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "closed"
}

// Breaker trips open after a run of consecutive failures and lets a single
// probe through once the reset timeout has elapsed.
type Breaker struct {
	name      string
	threshold int
	resetTime time.Duration
	onChange  func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	now      func() time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithStateChange installs a transition callback. It is invoked outside the
// breaker lock.
func WithStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures and probes again after resetTime.
func NewBreaker(name string, threshold int, resetTime time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTime <= 0 {
		resetTime = 30 * time.Second
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		resetTime: resetTime,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the breaker's registration name.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. In the open state it returns
// ErrOpen until the reset timeout passes, then admits one half-open probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	var transition func()
	err := func() error {
		switch b.state {
		case Closed:
			return nil
		case Open:
			if b.now().Sub(b.openedAt) < b.resetTime {
				return ErrOpen
			}
			transition = b.setState(HalfOpen)
			return nil
		default: // HalfOpen: one probe at a time
			return ErrOpen
		}
	}()
	b.mu.Unlock()
	if transition != nil {
		transition()
	}
	return err
}

// Success records a successful call and closes the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	b.failures = 0
	transition := b.setState(Closed)
	b.mu.Unlock()
	if transition != nil {
		transition()
	}
}

// Failure records a failed call, tripping the breaker when the consecutive
// threshold is reached or a half-open probe fails.
func (b *Breaker) Failure() {
	b.mu.Lock()
	b.failures++
	var transition func()
	if b.state == HalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		transition = b.setState(Open)
	}
	b.mu.Unlock()
	if transition != nil {
		transition()
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Healthy reports whether the breaker is closed; readiness probes use it.
func (b *Breaker) Healthy() bool { return b.State() == Closed }

// ReadyToProbe reports whether Allow would currently admit a call, without
// transitioning state or consuming the half-open probe slot. Recovery
// watchers use it to decide when to hand control back to the guarded path.
func (b *Breaker) ReadyToProbe() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Closed:
		return true
	case Open:
		return b.now().Sub(b.openedAt) >= b.resetTime
	default: // HalfOpen: a probe is already in flight
		return false
	}
}

// setState must be called with the lock held; it returns the callback to run
// after the lock is released, or nil when nothing changed.
func (b *Breaker) setState(to State) func() {
	if b.state == to {
		return nil
	}
	from := b.state
	b.state = to
	if b.onChange == nil {
		return nil
	}
	fn := b.onChange
	name := b.name
	return func() { fn(name, from, to) }
}
