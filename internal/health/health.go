// Package health runs dependency probes for the /health endpoints.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Overall states reported by Run.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Result is the outcome of one probe.
type Result struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
	Took     string `json:"took"`
}

// Report aggregates a run. A failing critical probe makes it down; a
// failing optional one only degrades it.
type Report struct {
	Status string   `json:"status"`
	Checks []Result `json:"checks"`
}

// Serving reports whether traffic should still be routed here.
func (r Report) Serving() bool { return r.Status != StatusDown }

type probe struct {
	name     string
	critical bool
	check    Check
}

// Registry holds the probes. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	probes  []probe
	timeout time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout bounds every probe of a run. The default is two seconds.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{timeout: 2 * time.Second}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Critical adds a probe whose failure takes the service down.
func (r *Registry) Critical(name string, c Check) { r.add(probe{name, true, c}) }

// Optional adds a probe whose failure only degrades the service.
func (r *Registry) Optional(name string, c Check) { r.add(probe{name, false, c}) }

func (r *Registry) add(p probe) {
	r.mu.Lock()
	r.probes = append(r.probes, p)
	r.mu.Unlock()
}

// Run executes every probe concurrently under the registry timeout. Results
// keep registration order. A panicking probe counts as failed.
func (r *Registry) Run(ctx context.Context) Report {
	r.mu.RLock()
	probes := append([]probe(nil), r.probes...)
	r.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results := make([]Result, len(probes))
	var wg conc.WaitGroup
	for i, p := range probes {
		wg.Go(func() {
			results[i] = run(ctx, p)
		})
	}
	wg.Wait()

	report := Report{Status: StatusOK, Checks: results}
	for _, res := range results {
		switch {
		case res.Healthy:
		case res.Critical:
			report.Status = StatusDown
		case report.Status == StatusOK:
			report.Status = StatusDegraded
		}
	}
	return report
}

func run(ctx context.Context, p probe) Result {
	start := time.Now()
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() { err = p.check(ctx) })
	if err == nil {
		err = catcher.Recovered().AsError()
	}

	res := Result{
		Name:     p.name,
		Healthy:  err == nil,
		Critical: p.critical,
		Took:     time.Since(start).Round(time.Microsecond).String(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
