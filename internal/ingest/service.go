package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"tradepipe/internal/events"
	"tradepipe/pkg/cache"
	"tradepipe/pkg/circuit"
	"tradepipe/pkg/types"
)

const envelopeSource = "ingest"

// Service runs the active market-data provider and fans every tick out to
// the event bus, the latest-price cache and the gateway pub/sub channel.
// When the primary provider gives up (stream circuit open) it runs the
// fallback until the circuit will admit a probe again.
type Service struct {
	bus      events.Bus
	cache    cache.Cache
	primary  MarketDataProvider
	fallback MarketDataProvider
	breaker  *circuit.Breaker
	log      zerolog.Logger

	recoveryPoll time.Duration
}

// NewService wires the ingestion service. fallback and breaker may be nil
// when only one provider is configured (replay runs).
func NewService(bus events.Bus, c cache.Cache, primary, fallback MarketDataProvider, breaker *circuit.Breaker, log zerolog.Logger) *Service {
	return &Service{
		bus:          bus,
		cache:        c,
		primary:      primary,
		fallback:     fallback,
		breaker:      breaker,
		log:          log.With().Str("component", "ingest").Logger(),
		recoveryPoll: time.Second,
	}
}

// Run blocks until ctx is cancelled or the primary provider finishes with no
// fallback configured.
func (s *Service) Run(ctx context.Context) error {
	out := make(chan types.MarketTick, 256)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case t := <-out:
				s.handleTick(ctx, t)
			case <-stop:
				// Drain whatever the last provider left buffered.
				for {
					select {
					case t := <-out:
						s.handleTick(ctx, t)
					default:
						return
					}
				}
			}
		}
	}()
	defer func() { close(stop); <-done }()

	for {
		err := s.primary.Run(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.fallback == nil {
			return err
		}
		s.log.Warn().Err(err).
			Str("from", s.primary.Name()).Str("to", s.fallback.Name()).
			Msg("market data provider switch")

		fctx, cancel := context.WithCancel(ctx)
		go s.watchRecovery(fctx, cancel)
		ferr := s.fallback.Run(fctx, out)
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ferr != nil && fctx.Err() == nil {
			s.log.Error().Err(ferr).Msg("fallback provider stopped")
		}
		s.log.Info().Str("to", s.primary.Name()).Msg("retrying primary market data provider")
	}
}

// watchRecovery cancels the fallback run once the stream circuit would
// admit a probe again, handing control back to the primary provider. The
// check must not consume the half-open slot: the primary's own Allow call
// is the probe.
func (s *Service) watchRecovery(ctx context.Context, cancel context.CancelFunc) {
	if s.breaker == nil {
		return
	}
	t := time.NewTicker(s.recoveryPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if s.breaker.ReadyToProbe() {
				cancel()
				return
			}
		}
	}
}

func (s *Service) handleTick(ctx context.Context, t types.MarketTick) {
	ev := events.NewEnvelope(events.TopicMarketTick, t, envelopeSource, "")
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("symbol", t.Symbol).Msg("tick publish failed")
	}

	if err := s.cache.Set(ctx, cache.LatestPriceKey(t.Symbol),
		t.Price.StringFixed(8), cache.LatestPriceTTL); err != nil {
		s.log.Warn().Err(err).Str("symbol", t.Symbol).Msg("price cache write failed")
	}

	raw, err := json.Marshal(t)
	if err != nil {
		s.log.Error().Err(err).Str("symbol", t.Symbol).Msg("tick marshal failed")
		return
	}
	if err := s.cache.Set(ctx, cache.LatestTickKey(t.Symbol), string(raw), cache.LatestPriceTTL); err != nil {
		s.log.Warn().Err(err).Str("symbol", t.Symbol).Msg("tick cache write failed")
	}
	if err := s.cache.Publish(ctx, cache.TickChannel, string(raw)); err != nil {
		s.log.Warn().Err(err).Str("symbol", t.Symbol).Msg("tick channel publish failed")
	}
}
