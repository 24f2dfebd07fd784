// Package health aggregates component probes into a single service rollup
// for the deep health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is a component's probe outcome.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"

	// StatusUnhealthy only appears as a rollup, never on a single probe.
	StatusUnhealthy Status = "unhealthy"
)

// DegradedLatency marks a probe as degraded once it exceeds this round trip.
const DegradedLatency = 3000 * time.Millisecond

// Check describes one component probe.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	LatencyMs int64     `json:"latency_ms"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report is the deep health rollup.
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	Timestamp time.Time `json:"timestamp"`
}

// Probe inspects one component. Implementations return the component status
// and an optional human detail string.
type Probe func(ctx context.Context) (Status, string)

type registration struct {
	name  string
	probe Probe
}

// Aggregator fans probes out concurrently and rolls their results up.
type Aggregator struct {
	mu     sync.RWMutex
	probes []registration
}

func NewAggregator() *Aggregator {
	a := &Aggregator{}
	// Orchestrator process liveness is implied by answering at all.
	a.Register("orchestration", func(ctx context.Context) (Status, string) {
		return StatusHealthy, ""
	})
	return a
}

// Register adds a named probe. Registration order is preserved in reports.
func (a *Aggregator) Register(name string, probe Probe) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.probes = append(a.probes, registration{name: name, probe: probe})
}

// DeepCheck runs every probe concurrently and rolls the results up. A probe
// slower than DegradedLatency counts as degraded even when it reports
// healthy. Any down component makes the rollup unhealthy; otherwise any
// degraded component makes it degraded.
func (a *Aggregator) DeepCheck(ctx context.Context) Report {
	a.mu.RLock()
	probes := make([]registration, len(a.probes))
	copy(probes, a.probes)
	a.mu.RUnlock()

	checks := make([]Check, len(probes))
	var wg sync.WaitGroup
	for i, reg := range probes {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			start := time.Now()
			status, detail := reg.probe(ctx)
			elapsed := time.Since(start)
			if status == StatusHealthy && elapsed > DegradedLatency {
				status = StatusDegraded
				detail = "latency over budget"
			}
			checks[i] = Check{
				Name:      reg.name,
				Status:    status,
				LatencyMs: elapsed.Milliseconds(),
				Detail:    detail,
				CheckedAt: time.Now().UTC(),
			}
		}(i, reg)
	}
	wg.Wait()

	rollup := StatusHealthy
	for _, c := range checks {
		switch c.Status {
		case StatusDown, StatusUnhealthy:
			rollup = StatusUnhealthy
		case StatusDegraded:
			if rollup == StatusHealthy {
				rollup = StatusDegraded
			}
		}
	}
	return Report{Status: rollup, Checks: checks, Timestamp: time.Now().UTC()}
}
