package risk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tradepipe/internal/events"
	"tradepipe/pkg/types"
)

// KillSwitch is the single halt flag every service observes. Activation is
// idempotent; deactivation is manual only and notifies registered resets so
// the monitors can clear their rolling state.
type KillSwitch struct {
	bus    events.Bus
	log    zerolog.Logger
	active atomic.Bool

	mu     sync.Mutex
	resets []func()
}

// NewKillSwitch creates an inactive kill switch publishing on the bus.
func NewKillSwitch(bus events.Bus, log zerolog.Logger) *KillSwitch {
	return &KillSwitch{bus: bus, log: log.With().Str("component", "killswitch").Logger()}
}

// Active reports whether trading is halted.
func (k *KillSwitch) Active() bool { return k.active.Load() }

// OnDeactivate registers a reset hook run on manual deactivation.
func (k *KillSwitch) OnDeactivate(fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.resets = append(k.resets, fn)
}

// Activate halts trading. A second activation while active is a no-op.
func (k *KillSwitch) Activate(ctx context.Context, reason string, drawdownPercent float64) {
	if !k.active.CompareAndSwap(false, true) {
		return
	}
	k.log.WithLevel(zerolog.FatalLevel).
		Str("reason", reason).Float64("drawdownPercent", drawdownPercent).
		Msg("KILL SWITCH ACTIVATED")

	ev := types.KillSwitchEvent{
		Active:          true,
		Reason:          reason,
		DrawdownPercent: drawdownPercent,
		Timestamp:       time.Now().UTC(),
	}
	if err := k.bus.Publish(ctx, events.NewEnvelope(events.TopicKillSwitch, ev, "risk", "")); err != nil {
		k.log.Error().Err(err).Msg("kill switch event publish failed")
	}
}

// Deactivate resumes trading and runs the reset hooks.
func (k *KillSwitch) Deactivate(ctx context.Context, reason string) {
	if !k.active.CompareAndSwap(true, false) {
		return
	}
	k.log.Warn().Str("reason", reason).Msg("kill switch deactivated")

	k.mu.Lock()
	resets := make([]func(), len(k.resets))
	copy(resets, k.resets)
	k.mu.Unlock()
	for _, fn := range resets {
		fn()
	}

	ev := types.KillSwitchEvent{
		Active:    false,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if err := k.bus.Publish(ctx, events.NewEnvelope(events.TopicKillSwitch, ev, "risk", "")); err != nil {
		k.log.Error().Err(err).Msg("kill switch event publish failed")
	}
}
