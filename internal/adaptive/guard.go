// Package adaptive implements the Adaptive Concurrency Guard: a node-local,
// health-driven admission gate that sits in front of the Limiter Core and sheds
// load when the node itself is under stress, independent of the per-API-key quotas
// in package limiter. The Admission Handler consults it before ever touching the
// shared counter store.
package adaptive

import (
	"sync"

	"golang.org/x/time/rate"
)

// Guard manages a dynamically-adjusted node-local rate limit. It is intentionally
// separate from the distributed per-key limiter: Allow()==false means "this process
// is unhealthy right now", not "this caller is over quota".
type Guard struct {
	mu                sync.RWMutex
	baseLimit         float64
	underlyingLimiter *rate.Limiter
}

// NewGuard creates a Guard with a starting request rate of baseLimit/sec and a
// burst equal to baseLimit.
func NewGuard(baseLimit float64) *Guard {
	return &Guard{
		baseLimit:         baseLimit,
		underlyingLimiter: rate.NewLimiter(rate.Limit(baseLimit), int(baseLimit)),
	}
}

// Allow reports whether the node has local capacity for one more request right now.
func (g *Guard) Allow() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.underlyingLimiter.Allow()
}

// UpdateFactor rescales the guard's rate to baseLimit*factor. Called by Monitor
// after each health poll.
func (g *Guard) UpdateFactor(factor float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.underlyingLimiter.SetLimit(rate.Limit(g.baseLimit * factor))
}

// CurrentFactor reports the guard's current throttle factor as a fraction of its
// base rate, for metrics export.
func (g *Guard) CurrentFactor() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.baseLimit == 0 {
		return 1
	}
	return float64(g.underlyingLimiter.Limit()) / g.baseLimit
}
