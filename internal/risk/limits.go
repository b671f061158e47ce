// Package risk gates strategy signals against the account's risk limits,
// sizes approved orders, and owns the kill switch. Limit reads sit on the
// signal hot path, so the active limits live behind an atomic pointer.
package risk

import (
	"sync/atomic"

	"tradepipe/pkg/types"
)

// Limits holds the runtime-mutable limit set. Readers never block writers.
type Limits struct {
	p atomic.Pointer[types.RiskLimits]
}

// NewLimits creates a holder seeded with the given limit set.
func NewLimits(l types.RiskLimits) *Limits {
	h := &Limits{}
	h.p.Store(&l)
	return h
}

// Load returns the current limits by value.
func (h *Limits) Load() types.RiskLimits { return *h.p.Load() }

// Store replaces the active limits.
func (h *Limits) Store(l types.RiskLimits) { h.p.Store(&l) }
