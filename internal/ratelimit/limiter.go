// Package ratelimit spaces out requests to the same domain. The local
// limiter covers a single process; the Redis limiter extends the guarantee
// to every worker sharing the Redis instance.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wprank/backend/internal/metrics"
)

// DomainLimiter blocks until a request to domain may be sent.
type DomainLimiter interface {
	Wait(ctx context.Context, domain string) error
}

const pruneThreshold = 1024

type entry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Local keeps one token bucket per domain with a burst of one, so two
// requests to a domain are always at least interval apart.
type Local struct {
	interval time.Duration

	mu      sync.Mutex
	domains map[string]*entry
}

func NewLocal(interval time.Duration) *Local {
	return &Local{
		interval: interval,
		domains:  make(map[string]*entry),
	}
}

func (l *Local) Wait(ctx context.Context, domain string) error {
	return l.limiter(domain).Wait(ctx)
}

func (l *Local) limiter(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	e, ok := l.domains[domain]
	if !ok {
		if len(l.domains) >= pruneThreshold {
			l.prune(now)
		}
		e = &entry{limiter: rate.NewLimiter(rate.Every(l.interval), 1)}
		l.domains[domain] = e
	}
	e.lastUsed = now
	return e.limiter
}

// prune drops buckets idle long enough that they would be full anyway.
func (l *Local) prune(now time.Time) {
	for domain, e := range l.domains {
		if now.Sub(e.lastUsed) > l.interval {
			delete(l.domains, domain)
		}
	}
}

type observed struct {
	next DomainLimiter
}

// WithMetrics records how long each Wait blocks.
func WithMetrics(next DomainLimiter) DomainLimiter {
	return observed{next: next}
}

func (o observed) Wait(ctx context.Context, domain string) error {
	start := time.Now()
	err := o.next.Wait(ctx, domain)
	metrics.RateLimitWaits.Observe(time.Since(start).Seconds())
	return err
}
