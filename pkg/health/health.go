// Package health implements the engine's health registry: named checks
// with a critical flag and timeout, aggregated into liveness, readiness,
// and full probes. The HTTP response shape
// follows the RFC health-check format nelkinda/health-go defines.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	healthgo "github.com/nelkinda/health-go"
)

// Status is one check's or the aggregate's outcome.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown  Status = "unknown"
)

// CheckFunc performs one health check, returning an error if unhealthy.
type CheckFunc func(ctx context.Context) error

// Check is one registered health probe.
type Check struct {
	Name     string
	Critical bool
	Timeout  time.Duration
	Fn       CheckFunc
}

// Result is the outcome of running one Check.
type Result struct {
	Name     string
	Status   Status
	Error    string
	Critical bool
}

// Registry holds the configured Checks and runs them on demand.
type Registry struct {
	mu     sync.RWMutex
	checks []Check

	version     string
	environment string
}

// NewRegistry constructs an empty Registry. version/environment are
// surfaced in the probe response per the RFC health-check format.
func NewRegistry(version, environment string) *Registry {
	return &Registry{version: version, environment: environment}
}

// Register adds c to the Registry. Checks with the same Name replace
// any prior registration, so a Production's hot reload can re-register
// a Host's check after rebuilding it.
func (r *Registry) Register(c Check) {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.checks {
		if existing.Name == c.Name {
			r.checks[i] = c
			return
		}
	}
	r.checks = append(r.checks, c)
}

// Unregister removes the check named name, if any.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.checks[:0]
	for _, c := range r.checks {
		if c.Name != name {
			out = append(out, c)
		}
	}
	r.checks = out
}

// Run executes every registered Check concurrently, each bounded by its
// own timeout, and returns individual results alongside the aggregate
// status.
//
// Aggregation: any critical check unhealthy makes the whole result
// unhealthy; otherwise any check unhealthy (non-critical) or unknown
// makes it degraded; otherwise it is healthy.
func (r *Registry) Run(ctx context.Context) (Status, []Result) {
	r.mu.RLock()
	checks := append([]Check(nil), r.checks...)
	r.mu.RUnlock()

	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = runOne(ctx, c)
		}(i, c)
	}
	wg.Wait()

	return aggregate(results), results
}

func runOne(ctx context.Context, c Check) Result {
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Fn(checkCtx) }()

	select {
	case err := <-done:
		if err != nil {
			return Result{Name: c.Name, Status: StatusUnhealthy, Error: err.Error(), Critical: c.Critical}
		}
		return Result{Name: c.Name, Status: StatusHealthy, Critical: c.Critical}
	case <-checkCtx.Done():
		return Result{Name: c.Name, Status: StatusUnhealthy, Error: "check timed out", Critical: c.Critical}
	}
}

func aggregate(results []Result) Status {
	sawUnhealthy := false
	sawUnknown := false
	for _, r := range results {
		switch r.Status {
		case StatusUnhealthy:
			if r.Critical {
				return StatusUnhealthy
			}
			sawUnhealthy = true
		case StatusUnknown:
			sawUnknown = true
		}
	}
	if sawUnhealthy || sawUnknown {
		return StatusDegraded
	}
	return StatusHealthy
}

func toRFCStatus(s Status) healthgo.Status {
	switch s {
	case StatusHealthy:
		return healthgo.Pass
	case StatusDegraded:
		return healthgo.Warn
	default:
		return healthgo.Fail
	}
}

func httpStatusFor(s Status) int {
	switch s {
	case StatusUnhealthy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusOK
	}
}

// LivenessHandler reports StatusHealthy unless the process itself cannot
// serve requests; it runs no Checks, matching the liveness probe's
// cheap, dependency-free contract.
func (r *Registry) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		resp := healthgo.Health{Status: healthgo.Pass, Version: r.version}
		writeHealth(w, http.StatusOK, resp)
	}
}

// ReadinessHandler runs every critical Check and reports unhealthy if
// any fails, matching the readiness probe's "can this instance take
// traffic" contract.
func (r *Registry) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.RLock()
		checks := make([]Check, 0, len(r.checks))
		for _, c := range r.checks {
			if c.Critical {
				checks = append(checks, c)
			}
		}
		r.mu.RUnlock()

		status, results := runSubset(req.Context(), checks)
		resp := toResponse(r, status, results)
		writeHealth(w, httpStatusFor(status), resp)
	}
}

// FullHandler runs every Check and reports full detail, matching the
// operator-facing full health probe.
func (r *Registry) FullHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		status, results := r.Run(req.Context())
		resp := toResponse(r, status, results)
		writeHealth(w, httpStatusFor(status), resp)
	}
}

func runSubset(ctx context.Context, checks []Check) (Status, []Result) {
	results := make([]Result, len(checks))
	var wg sync.WaitGroup
	for i, c := range checks {
		wg.Add(1)
		go func(i int, c Check) {
			defer wg.Done()
			results[i] = runOne(ctx, c)
		}(i, c)
	}
	wg.Wait()
	return aggregate(results), results
}

func toResponse(r *Registry, status Status, results []Result) healthgo.Health {
	details := make(map[string][]healthgo.Details, len(results))
	for _, res := range results {
		d := healthgo.Details{Status: toRFCStatus(res.Status), Output: res.Error}
		details[res.Name] = append(details[res.Name], d)
	}
	return healthgo.Health{
		Status:      toRFCStatus(status),
		Version:     r.version,
		Description: r.environment,
		Details:     details,
	}
}

func writeHealth(w http.ResponseWriter, code int, resp healthgo.Health) {
	w.Header().Set("Content-Type", "application/health+json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
