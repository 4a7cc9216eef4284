package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/webshot/internal/capture"
)

// DelayObserver records time spent waiting on host pacing.
type DelayObserver interface {
	ObserveRateLimitDelay(site string, d time.Duration)
}

// Pacer spaces out captures against the same host. One Pacer is shared by
// every slot in a run. A nil Pacer or a non-positive rate disables pacing.
type Pacer struct {
	qps      float64
	limiters sync.Map
	observer DelayObserver
	siteOf   func(string) string
}

// NewPacer builds a Pacer allowing qps captures per second per host.
func NewPacer(qps float64, observer DelayObserver, siteOf func(string) string) *Pacer {
	if siteOf == nil {
		siteOf = func(host string) string { return host }
	}
	return &Pacer{qps: qps, observer: observer, siteOf: siteOf}
}

// Wait blocks until the target's host may be captured again or ctx ends.
func (p *Pacer) Wait(ctx context.Context, target capture.Target) error {
	if p == nil || p.qps <= 0 {
		return nil
	}
	host := target.Host()
	val, _ := p.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(p.qps), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond && p.observer != nil {
		p.observer.ObserveRateLimitDelay(p.siteOf(host), d)
	}
	return nil
}
