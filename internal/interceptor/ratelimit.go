package interceptor

import (
	"sync"

	"golang.org/x/time/rate"
)

// quotaBurst and quotaRefillPerSec size the in-memory token bucket every
// tenant gets ahead of the monthly-count database query: generous enough
// that a well-behaved agent loop never feels it, tight enough to absorb a
// runaway loop's request storm without hitting the database on every call.
const (
	quotaRefillPerSec = 20
	quotaBurst        = 40
)

// quotaLimiters is the per-tenant token-bucket fast path in front of
// CountEventsInCurrentMonth: a tenant that blows through its burst budget
// gets rejected without ever reaching the database, the same "cheap check
// before the expensive one" shape as the block-list/quota ordering in
// ServeHTTP itself.
type quotaLimiters struct {
	mu        sync.Mutex
	perTenant map[string]*rate.Limiter
}

func newQuotaLimiters() *quotaLimiters {
	return &quotaLimiters{perTenant: make(map[string]*rate.Limiter)}
}

func (q *quotaLimiters) allow(tenantID string) bool {
	q.mu.Lock()
	lim, ok := q.perTenant[tenantID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(quotaRefillPerSec), quotaBurst)
		q.perTenant[tenantID] = lim
	}
	q.mu.Unlock()
	return lim.Allow()
}
