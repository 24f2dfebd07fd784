// Package router picks the first admissible (backend, model) pair for a
// tier, honoring per-backend circuit breaker gates in priority order.
package router

import (
	"errors"
	"fmt"

	"github.com/neuralmesh/orchestrator/internal/circuitbreaker"
	"github.com/neuralmesh/orchestrator/internal/core"
	"github.com/neuralmesh/orchestrator/internal/registry"
)

// ErrAllCircuitsOpen is returned when every enabled backend's breaker gate
// denies admission. Callers surface it as kind CIRCUIT_ALL_OPEN.
var ErrAllCircuitsOpen = errors.New("router: all backend circuits open")

// Route is the router's choice for one request.
type Route struct {
	BackendID core.BackendID
	Model     registry.Model

	// FailoverFrom is the highest-priority backend whose gate denied
	// admission, when the chosen backend is not the primary.
	FailoverFrom core.BackendID
}

// Failover reports whether a higher-priority backend was skipped.
func (r Route) Failover() bool { return r.FailoverFrom != "" }

// TierRouter resolves tiers to backends through breaker gates.
type TierRouter struct {
	registry *registry.Registry
	breakers *circuitbreaker.Manager
}

// New creates a tier router over the given catalogue and breaker manager.
func New(reg *registry.Registry, breakers *circuitbreaker.Manager) *TierRouter {
	return &TierRouter{registry: reg, breakers: breakers}
}

// Route iterates enabled backends in priority order and returns the first
// whose breaker admits a request, paired with that backend's model for the
// tier. Admission claims any half-open probe slot, so an exhausted probe
// budget skips the backend the same way an open circuit does. Deterministic
// for a fixed breaker snapshot.
func (t *TierRouter) Route(tier core.Tier) (Route, error) {
	backends := t.registry.EnabledBackends()
	if len(backends) == 0 {
		return Route{}, fmt.Errorf("router: no enabled backends for tier %s", tier)
	}

	var skippedFrom core.BackendID
	skip := func(id core.BackendID) {
		if skippedFrom == "" {
			skippedFrom = id
		}
	}
	for _, cfg := range backends {
		cb := t.breakers.Get(string(cfg.ID))
		if !cb.CanRequest() {
			skip(cfg.ID)
			continue
		}
		model, ok := t.registry.FindModelForBackend(cfg.ID, tier)
		if !ok {
			// Enabled backend without any model; treat like a denied gate.
			skip(cfg.ID)
			continue
		}
		if err := cb.Admit(); err != nil {
			// Lost the race for the last probe slot.
			skip(cfg.ID)
			continue
		}
		return Route{BackendID: cfg.ID, Model: model, FailoverFrom: skippedFrom}, nil
	}
	return Route{}, ErrAllCircuitsOpen
}

// Breaker exposes the breaker handle for a backend so the resilient client
// records outcomes on exactly the breaker that was consulted.
func (t *TierRouter) Breaker(id core.BackendID) *circuitbreaker.CircuitBreaker {
	return t.breakers.Get(string(id))
}

// Snapshots returns the per-backend breaker view for the operator surface.
func (t *TierRouter) Snapshots() map[string]circuitbreaker.Snapshot {
	return t.breakers.Snapshots()
}
