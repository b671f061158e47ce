package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradepipe/pkg/types"
)

// DefaultPollInterval is the REST fallback cadence.
const DefaultPollInterval = 5 * time.Second

// PriceSource answers spot price queries; satisfied by the REST exchange
// client.
type PriceSource interface {
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PollProvider is the REST fallback: one tick per symbol per interval. It
// carries no volume or book data, only the last price.
type PollProvider struct {
	source   PriceSource
	symbols  []string
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewPollProvider creates a polling provider; a zero interval means
// DefaultPollInterval.
func NewPollProvider(source PriceSource, symbols []string, interval time.Duration, log zerolog.Logger) *PollProvider {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollProvider{
		source:   source,
		symbols:  symbols,
		interval: interval,
		log:      log.With().Str("provider", "poll").Logger(),
		now:      time.Now,
	}
}

func (p *PollProvider) Name() string { return "poll" }

func (p *PollProvider) Run(ctx context.Context, out chan<- types.MarketTick) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Emit one round immediately so the fallback does not leave a gap.
	if err := p.round(ctx, out); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.round(ctx, out); err != nil {
				return err
			}
		}
	}
}

func (p *PollProvider) round(ctx context.Context, out chan<- types.MarketTick) error {
	for _, sym := range p.symbols {
		price, err := p.source.TickerPrice(ctx, sym)
		if err != nil {
			p.log.Warn().Err(err).Str("symbol", sym).Msg("price poll failed")
			continue
		}
		tick := types.MarketTick{
			Symbol:    sym,
			Price:     price,
			Timestamp: p.now().UTC(),
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
