// Package liveness implements the reachability probe that runs before a
// capture is attempted.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/webshot/internal/capture"
)

const defaultBudget = 5 * time.Second

// Config controls the probe.
type Config struct {
	UserAgent string
	// Budget is used when Probe is called with a non-positive budget.
	Budget time.Duration
}

// Observer receives one call per finished probe.
type Observer interface {
	ProbeObserved(verdict string, elapsed time.Duration)
}

// Gate sends an HTTP HEAD through a colly collector. Any HTTP response,
// including 4xx and 5xx, counts as alive. A probe that does not finish within
// its budget is treated as dead, so slow-but-alive hosts are skipped.
type Gate struct {
	cfg           Config
	baseCollector *colly.Collector
	observer      Observer
}

// New builds a Gate.
func New(cfg Config, observer Observer) *Gate {
	if cfg.Budget <= 0 {
		cfg.Budget = defaultBudget
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	c.ParseHTTPErrorResponse = true
	c.WithTransport(newHTTPTransport())
	// Clones share the HTTP client, so the client carries no timeout of its
	// own. Each probe bounds its request with a context deadline instead.
	c.SetRequestTimeout(0)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Gate{cfg: cfg, baseCollector: c, observer: observer}
}

// Probe checks the target within budget.
func (g *Gate) Probe(ctx context.Context, target capture.Target, budget time.Duration) capture.Verdict {
	if budget <= 0 {
		budget = g.cfg.Budget
	}
	start := time.Now()
	verdict := g.probe(ctx, target, budget)
	verdict.Elapsed = time.Since(start)
	if g.observer != nil {
		g.observer.ProbeObserved(verdictLabel(verdict), verdict.Elapsed)
	}
	return verdict
}

func (g *Gate) probe(ctx context.Context, target capture.Target, budget time.Duration) capture.Verdict {
	reqCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	collector := g.baseCollector.Clone()
	collector.Context = reqCtx

	var (
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			status = r.StatusCode
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Head(target.Raw)
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return capture.Verdict{Err: fmt.Errorf("probe canceled: %w", ctx.Err())}
	case <-timer.C:
		return timedOut(budget)
	case err := <-done:
		if ctx.Err() != nil {
			return capture.Verdict{Err: fmt.Errorf("probe canceled: %w", ctx.Err())}
		}
		if err == nil {
			err = fetchErr
		}
		if status > 0 {
			return capture.Verdict{Alive: true, StatusCode: status}
		}
		if err == nil {
			err = errors.New("no response")
		}
		if isTimeout(err) {
			return timedOut(budget)
		}
		return capture.Verdict{Err: fmt.Errorf("%w: %w", capture.ErrTargetUnreachable, err)}
	}
}

func timedOut(budget time.Duration) capture.Verdict {
	return capture.Verdict{
		TimedOut: true,
		Err:      fmt.Errorf("%w: no response to probe within %s", capture.ErrTargetTimedOut, budget),
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func verdictLabel(v capture.Verdict) string {
	switch {
	case v.Alive:
		return "alive"
	case v.TimedOut:
		return "timeout"
	default:
		return "dead"
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
