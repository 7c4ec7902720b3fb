package health

import (
	"context"
	"sync"
	"time"
)

type CheckResult struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

type CheckerFunc func(ctx context.Context) CheckResult

func (f CheckerFunc) Check(ctx context.Context) CheckResult {
	return f(ctx)
}

// ProbeRunner caches the outcome of the registered checks so a scrape storm
// on /health/ready does not turn into a scrape storm on the database.
type ProbeRunner struct {
	checkTimeout time.Duration
	cacheTTL     time.Duration
	checkers     []Checker

	mu         sync.Mutex
	lastRun    time.Time
	lastReady  bool
	lastResult []CheckResult
}

func NewProbeRunner(checkTimeout, cacheTTL time.Duration, checkers ...Checker) *ProbeRunner {
	if checkTimeout <= 0 {
		checkTimeout = time.Second
	}
	return &ProbeRunner{
		checkTimeout: checkTimeout,
		cacheTTL:     cacheTTL,
		checkers:     checkers,
	}
}

func (p *ProbeRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if p.cacheTTL > 0 && !p.lastRun.IsZero() && now.Sub(p.lastRun) < p.cacheTTL {
		return p.lastReady, append([]CheckResult(nil), p.lastResult...)
	}

	ready := true
	results := make([]CheckResult, 0, len(p.checkers))
	for _, checker := range p.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, p.checkTimeout)
		result := checker.Check(checkCtx)
		cancel()
		if !result.Healthy {
			ready = false
		}
		results = append(results, result)
	}

	p.lastRun = now
	p.lastReady = ready
	p.lastResult = results
	return ready, append([]CheckResult(nil), results...)
}
