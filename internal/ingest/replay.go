package ingest

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"tradepipe/pkg/types"
)

// ReplayProvider emits a deterministic tick sequence for backtest and
// simulation runs. The same seed always yields the same walk. With Loop set
// it never stops; otherwise Run returns nil after Count ticks per symbol.
type ReplayProvider struct {
	Symbols    []string
	Seed       int64
	StartPrice float64
	Step       float64
	Interval   time.Duration
	Count      int
	Loop       bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewReplayProvider creates a replay provider with sane defaults: price walk
// from 100 with 0.5 steps, 100 ticks per symbol, no delay between ticks.
func NewReplayProvider(symbols []string, seed int64) *ReplayProvider {
	return &ReplayProvider{
		Symbols:    symbols,
		Seed:       seed,
		StartPrice: 100,
		Step:       0.5,
		Count:      100,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func (p *ReplayProvider) Name() string { return "replay" }

func (p *ReplayProvider) Run(ctx context.Context, out chan<- types.MarketTick) error {
	rng := rand.New(rand.NewSource(p.Seed))
	prices := make(map[string]float64, len(p.Symbols))
	for _, sym := range p.Symbols {
		prices[sym] = p.StartPrice
	}

	emitted := 0
	for {
		for _, sym := range p.Symbols {
			prices[sym] += (rng.Float64()*2 - 1) * p.Step
			tick := types.MarketTick{
				Symbol:    sym,
				Price:     decimal.NewFromFloat(prices[sym]).Round(8),
				Volume:    decimal.NewFromFloat(rng.Float64() * 10).Round(8),
				Timestamp: p.now().UTC(),
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		emitted++
		if !p.Loop && emitted >= p.Count {
			return nil
		}
		if p.Interval > 0 {
			if !p.sleep(ctx, p.Interval) {
				return ctx.Err()
			}
		}
	}
}
