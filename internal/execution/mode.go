package execution

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"tradepipe/pkg/types"
)

// ModeProvider holds the process-wide trading mode. Reads are lock-free;
// the execution engine is the only writer after startup. Backtest and
// Simulation are set at start and never flip automatically.
type ModeProvider struct {
	mode atomic.Value
	log  zerolog.Logger
}

// NewModeProvider creates a provider starting in the given mode.
func NewModeProvider(initial types.TradingMode, log zerolog.Logger) *ModeProvider {
	p := &ModeProvider{log: log.With().Str("component", "mode").Logger()}
	p.mode.Store(initial)
	return p
}

// Mode returns the active trading mode.
func (p *ModeProvider) Mode() types.TradingMode {
	return p.mode.Load().(types.TradingMode)
}

// Set transitions to the given mode, logging the change.
func (p *ModeProvider) Set(m types.TradingMode) {
	old := p.Mode()
	if old == m {
		return
	}
	p.mode.Store(m)
	p.log.Warn().Str("from", string(old)).Str("to", string(m)).Msg("trading mode changed")
}
