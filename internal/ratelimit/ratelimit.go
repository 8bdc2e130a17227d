// Package ratelimit provides per-tenant ingest rate limiting.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Registry hands out one token-bucket limiter per tenant name. Limiters
// are created lazily on first use and share the same rate and burst.
type Registry struct {
	perSec float64
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRegistry creates a registry allowing perSec events per second per
// tenant with the given burst. Burst values below 1 are raised to 1 so a
// configured tenant can always send at least one message.
func NewRegistry(perSec float64, burst int) *Registry {
	if burst < 1 {
		burst = 1
	}
	return &Registry{
		perSec:   perSec,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the tenant may send one message now.
func (r *Registry) Allow(tenant string) bool {
	return r.limiter(tenant).Allow()
}

func (r *Registry) limiter(tenant string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[tenant]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.perSec), r.burst)
		r.limiters[tenant] = l
	}
	return l
}
