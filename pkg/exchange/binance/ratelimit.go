package binance

import (
	"context"
	"sync"
	"time"
)

// Request weights charged against the rolling-minute budget. Values follow
// the exchange's published weight table for the endpoints we call.
const (
	weightOrder   = 1
	weightQuery   = 4
	weightAccount = 20
)

// WeightLimiter enforces the exchange's weight budget over a rolling one
// minute window. When the window is full, Wait blocks the caller until the
// window rolls over, bounded by the window length itself.
type WeightLimiter struct {
	limit  int
	window time.Duration

	mu          sync.Mutex
	used        int
	windowStart time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWeightLimiter creates a limiter; the spot API allows 1200 weight units
// per minute.
func NewWeightLimiter(limit int, window time.Duration) *WeightLimiter {
	return &WeightLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait reserves weight units, blocking until the rolling window has room or
// the context is cancelled.
func (l *WeightLimiter) Wait(ctx context.Context, weight int) error {
	for {
		l.mu.Lock()
		now := l.now()
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
			l.windowStart = now
			l.used = 0
		}
		if l.used+weight <= l.limit {
			l.used += weight
			l.mu.Unlock()
			return nil
		}
		wait := l.window - now.Sub(l.windowStart)
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Usage returns the weight consumed in the current window.
func (l *WeightLimiter) Usage() (used, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.windowStart.IsZero() && l.now().Sub(l.windowStart) >= l.window {
		return 0, l.limit
	}
	return l.used, l.limit
}

// syncFromHeader adopts the weight the exchange reports for the current
// window, so local accounting never undercounts shared credentials.
func (l *WeightLimiter) syncFromHeader(used int) {
	if used <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if used > l.used {
		l.used = used
	}
}
