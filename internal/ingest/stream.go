package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tradepipe/pkg/circuit"
	"tradepipe/pkg/types"
)

// TickStream is the websocket surface StreamProvider consumes. Subscribe
// opens a combined trade stream and returns a tick channel that closes when
// the connection drops.
type TickStream interface {
	Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketTick, func(), error)
}

// StreamProvider is the primary provider: a websocket trade stream with
// reconnect backoff and a circuit breaker. Run returns once the breaker
// refuses a dial, letting the Service fall back to polling.
type StreamProvider struct {
	stream  TickStream
	symbols []string
	breaker *circuit.Breaker
	log     zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewStreamProvider wires a stream provider over the given websocket client.
func NewStreamProvider(stream TickStream, symbols []string, breaker *circuit.Breaker, log zerolog.Logger) *StreamProvider {
	return &StreamProvider{
		stream:  stream,
		symbols: symbols,
		breaker: breaker,
		log:     log.With().Str("provider", "stream").Logger(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func (p *StreamProvider) Name() string { return "stream" }

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// reconnectDelay implements the backoff schedule: 1s, 2s, 4s, ... capped at
// 15s while within the first minute of the outage, then a flat 30s.
func reconnectDelay(outageStart, now time.Time, attempt int) time.Duration {
	if now.Sub(outageStart) >= time.Minute {
		return 30 * time.Second
	}
	if attempt > 4 { // 1<<4 = 16s, already past the cap
		return 15 * time.Second
	}
	d := time.Second << attempt
	if d > 15*time.Second {
		d = 15 * time.Second
	}
	return d
}

func (p *StreamProvider) Run(ctx context.Context, out chan<- types.MarketTick) error {
	var (
		attempt     int
		outageStart time.Time
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.breaker.Allow(); err != nil {
			return fmt.Errorf("trade stream refused: %w", err)
		}

		ticks, stop, err := p.stream.Subscribe(ctx, p.symbols)
		if err != nil {
			p.breaker.Failure()
			if outageStart.IsZero() {
				outageStart = p.now()
			}
			delay := reconnectDelay(outageStart, p.now(), attempt)
			attempt++
			p.log.Warn().Err(err).Dur("retryIn", delay).Int("attempt", attempt).
				Msg("trade stream connect failed")
			if !p.sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}

		p.breaker.Success()
		attempt, outageStart = 0, time.Time{}
		p.log.Info().Strs("symbols", p.symbols).Msg("trade stream connected")

		if err := p.forward(ctx, ticks, out); err != nil {
			stop()
			return err
		}
		stop()

		// Channel closed: connection dropped. Start a fresh backoff cycle.
		outageStart = p.now()
		delay := reconnectDelay(outageStart, p.now(), attempt)
		attempt++
		p.log.Warn().Dur("retryIn", delay).Msg("trade stream disconnected")
		if !p.sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (p *StreamProvider) forward(ctx context.Context, in <-chan types.MarketTick, out chan<- types.MarketTick) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-in:
			if !ok {
				return nil
			}
			select {
			case out <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
