package risk

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tradepipe/pkg/cache"
	"tradepipe/pkg/types"
)

// DefaultMonitorInterval is the snapshot polling cadence.
const DefaultMonitorInterval = 5 * time.Second

// consecutiveLossLimit is how many losing snapshots in a row trip the kill
// switch.
const consecutiveLossLimit = 3

// Monitor polls the shared portfolio snapshot, tracks peak equity and
// drawdown, and fires the kill switch on a breach: drawdown past the limit,
// the daily realised loss past its cap, or three losing snapshots in a row.
type Monitor struct {
	cache    cache.Cache
	limits   *Limits
	ks       *KillSwitch
	log      zerolog.Logger
	interval time.Duration
	now      func() time.Time

	mu               sync.Mutex
	peak             decimal.Decimal
	equity           decimal.Decimal
	last             *types.PortfolioSnapshot
	hasPrev          bool
	prevEquity       decimal.Decimal
	losingStreak     int
	day              time.Time
	dayStartRealized decimal.Decimal
}

// NewMonitor creates a monitor seeded with the configured starting equity,
// used for sizing until the first snapshot lands.
func NewMonitor(c cache.Cache, limits *Limits, ks *KillSwitch, startingEquity decimal.Decimal, log zerolog.Logger) *Monitor {
	m := &Monitor{
		cache:    c,
		limits:   limits,
		ks:       ks,
		log:      log.With().Str("component", "drawdown").Logger(),
		interval: DefaultMonitorInterval,
		now:      time.Now,
		peak:     startingEquity,
		equity:   startingEquity,
	}
	ks.OnDeactivate(m.reset)
	return m
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Evaluate(ctx)
		}
	}
}

// Evaluate reads the cached snapshot once and applies the breach checks.
func (m *Monitor) Evaluate(ctx context.Context) {
	raw, err := m.cache.Get(ctx, cache.PortfolioSnapshotKey)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			m.log.Warn().Err(err).Msg("snapshot read failed")
		}
		return
	}
	var snap types.PortfolioSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		m.log.Warn().Err(err).Msg("snapshot decode failed")
		return
	}
	m.Observe(ctx, snap)
}

// Observe folds one snapshot into the peak/loss state and fires the kill
// switch when a limit is breached.
func (m *Monitor) Observe(ctx context.Context, snap types.PortfolioSnapshot) {
	lim := m.limits.Load()

	m.mu.Lock()
	equity := snap.TotalEquity
	m.equity = equity
	m.last = &snap
	if equity.GreaterThan(m.peak) {
		m.peak = equity
	}
	dd := m.drawdownLocked()

	if m.hasPrev && equity.LessThan(m.prevEquity) {
		m.losingStreak++
	} else if m.hasPrev && equity.GreaterThan(m.prevEquity) {
		m.losingStreak = 0
	}
	m.prevEquity = equity
	m.hasPrev = true
	streak := m.losingStreak

	day := m.now().UTC().Truncate(24 * time.Hour)
	if !day.Equal(m.day) {
		m.day = day
		m.dayStartRealized = snap.TotalRealizedPnL
		m.losingStreak = 0
	}
	dailyLoss := m.dayStartRealized.Sub(snap.TotalRealizedPnL)
	m.mu.Unlock()

	if !lim.KillSwitchEnabled || m.ks.Active() {
		return
	}

	switch {
	case dd >= lim.MaxDrawdownPercent:
		m.ks.Activate(ctx, "max drawdown exceeded", dd)
	case dailyLossBreached(dailyLoss, equity, lim.MaxDailyLoss):
		m.ks.Activate(ctx, "max daily loss exceeded", dd)
	case streak >= consecutiveLossLimit:
		m.ks.Activate(ctx, "consecutive losing snapshots", dd)
	}
}

func dailyLossBreached(loss, equity decimal.Decimal, maxDailyLossPct float64) bool {
	if maxDailyLossPct <= 0 || loss.Sign() <= 0 || equity.Sign() <= 0 {
		return false
	}
	threshold := equity.Mul(decimal.NewFromFloat(maxDailyLossPct)).Div(decimal.NewFromInt(100))
	return loss.GreaterThanOrEqual(threshold)
}

func (m *Monitor) drawdownLocked() float64 {
	if m.peak.Sign() <= 0 {
		return 0
	}
	dd, _ := m.peak.Sub(m.equity).Div(m.peak).Mul(decimal.NewFromInt(100)).Float64()
	if dd < 0 {
		return 0
	}
	return dd
}

// reset clears peak tracking and the rolling-loss state; hooked to manual
// kill switch deactivation.
func (m *Monitor) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peak = m.equity
	m.losingStreak = 0
	m.hasPrev = false
	m.dayStartRealized = decimal.Zero
	if m.last != nil {
		m.dayStartRealized = m.last.TotalRealizedPnL
	}
	m.log.Info().Msg("drawdown tracking reset")
}

// Equity returns the latest known account equity.
func (m *Monitor) Equity() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.equity
}

// Drawdown returns the current drawdown percentage.
func (m *Monitor) Drawdown() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drawdownLocked()
}

// OpenPositions returns the position count from the latest snapshot.
func (m *Monitor) OpenPositions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return 0
	}
	return len(m.last.OpenPositions)
}
