package execution

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradepipe/pkg/cache"
	"tradepipe/pkg/types"
)

// SnapshotInterval is the portfolio snapshot cadence.
const SnapshotInterval = 5 * time.Second

// SnapshotPublisher periodically marks open positions at the latest cached
// prices and writes the portfolio snapshot the risk monitor reads.
type SnapshotPublisher struct {
	tracker        *Tracker
	cache          cache.Cache
	startingEquity decimal.Decimal
	interval       time.Duration
	log            zerolog.Logger
	now            func() time.Time

	mu   sync.Mutex
	peak decimal.Decimal
}

// NewSnapshotPublisher creates a publisher anchored at the starting equity.
func NewSnapshotPublisher(tr *Tracker, c cache.Cache, startingEquity decimal.Decimal, log zerolog.Logger) *SnapshotPublisher {
	return &SnapshotPublisher{
		tracker:        tr,
		cache:          c,
		startingEquity: startingEquity,
		interval:       SnapshotInterval,
		log:            log.With().Str("component", "portfolio").Logger(),
		now:            time.Now,
		peak:           startingEquity,
	}
}

// Run publishes until ctx is cancelled.
func (p *SnapshotPublisher) Run(ctx context.Context) {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.PublishOnce(ctx)
		}
	}
}

// PublishOnce builds and caches one snapshot.
func (p *SnapshotPublisher) PublishOnce(ctx context.Context) {
	for _, pos := range p.tracker.Positions() {
		raw, err := p.cache.Get(ctx, cache.LatestPriceKey(pos.Symbol))
		if err != nil {
			if !errors.Is(err, cache.ErrMiss) {
				p.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("mark price read failed")
			}
			continue
		}
		price, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			continue
		}
		p.tracker.Mark(pos.Symbol, price)
	}

	snap := p.Snapshot()
	raw, err := json.Marshal(snap)
	if err != nil {
		p.log.Error().Err(err).Msg("snapshot marshal failed")
		return
	}
	if err := p.cache.Set(ctx, cache.PortfolioSnapshotKey, string(raw), cache.SnapshotTTL); err != nil {
		p.log.Warn().Err(err).Msg("snapshot cache write failed")
	}
}

// Snapshot assembles the current portfolio view.
func (p *SnapshotPublisher) Snapshot() types.PortfolioSnapshot {
	positions := p.tracker.Positions()
	realized := p.tracker.Realized()
	unrealized := decimal.Zero
	exposure := decimal.Zero
	for _, pos := range positions {
		unrealized = unrealized.Add(pos.UnrealizedPnL)
		exposure = exposure.Add(pos.CurrentPrice.Mul(pos.Quantity))
	}
	equity := p.startingEquity.Add(realized).Add(unrealized)
	return types.PortfolioSnapshot{
		TotalEquity:        equity,
		AvailableBalance:   equity.Sub(exposure),
		TotalUnrealizedPnL: unrealized,
		TotalRealizedPnL:   realized,
		DrawdownPercent:    p.drawdown(equity),
		OpenPositions:      positions,
		Timestamp:          p.now().UTC(),
	}
}

// drawdown ratchets the running peak and returns the percent decline from
// it, so every snapshot consumer sees the same figure the risk limits are
// judged against.
func (p *SnapshotPublisher) drawdown(equity decimal.Decimal) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if equity.GreaterThan(p.peak) {
		p.peak = equity
	}
	if !p.peak.IsPositive() {
		return 0
	}
	dd, _ := p.peak.Sub(equity).Div(p.peak).Mul(decimal.NewFromInt(100)).Float64()
	return dd
}
