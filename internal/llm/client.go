package llm

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/neuralmesh/orchestrator/internal/audit"
	"github.com/neuralmesh/orchestrator/internal/circuitbreaker"
	"github.com/neuralmesh/orchestrator/internal/core"
	"github.com/neuralmesh/orchestrator/internal/monitoring"
	"github.com/neuralmesh/orchestrator/internal/router"
)

// ModeEnvKey selects the execution mode when no explicit option is given:
// "real" delegates to backend adapters, anything else means mock.
const ModeEnvKey = "NEURALMESH_LLM_MODE"

const (
	ModeMock = "mock"
	ModeReal = "real"
)

// ResilientClient orchestrates route -> invoke -> breaker bookkeeping ->
// audit append for every completion. Exactly one audit entry is written per
// call, on both the success and the failure path.
type ResilientClient struct {
	router   *router.TierRouter
	factory  *AdapterFactory
	auditLog *audit.Ring
	mode     string
	metrics  *monitoring.Metrics
	logger   *log.Logger
}

// NewResilientClient wires the client. Mode resolution: explicit mode
// argument, then the NEURALMESH_LLM_MODE environment hint, then mock.
func NewResilientClient(rt *router.TierRouter, factory *AdapterFactory, auditLog *audit.Ring, mode string) *ResilientClient {
	if mode == "" {
		mode = os.Getenv(ModeEnvKey)
	}
	if mode != ModeReal {
		mode = ModeMock
	}
	return &ResilientClient{
		router:   rt,
		factory:  factory,
		auditLog: auditLog,
		mode:     mode,
		logger:   log.New(log.Writer(), "[LLM] ", log.LstdFlags),
	}
}

// Mode returns the resolved execution mode.
func (c *ResilientClient) Mode() string { return c.mode }

// SetMetrics attaches the completion and failover instruments. A nil set
// disables recording.
func (c *ResilientClient) SetMetrics(m *monitoring.Metrics) { c.metrics = m }

// Complete routes the tier to an admissible backend, invokes its adapter,
// records the outcome on that backend's breaker, and appends the audit
// entry. CIRCUIT_ALL_OPEN from the router is audited with a synthetic
// "none" backend before being re-raised.
func (c *ResilientClient) Complete(ctx context.Context, tier core.Tier, prompt string, opts Options) (core.CompletionResult, error) {
	start := time.Now()

	route, err := c.router.Route(tier)
	if err != nil {
		c.auditLog.Append(audit.Entry{
			Decision: core.RoutingDecision{
				Tier:      tier,
				BackendID: core.BackendNone,
				ModelID:   "none",
				LatencyMs: time.Since(start).Milliseconds(),
				Timestamp: time.Now(),
			},
			BreakerState: circuitbreaker.StateOpen.String(),
			Description:  audit.TruncateDescription(prompt),
		})
		return core.CompletionResult{}, core.E("llm.complete", core.KindCircuitAllOpen, err)
	}

	if c.metrics != nil && route.Failover() {
		c.metrics.FailoversTotal.Inc()
	}

	// The router already claimed any half-open probe slot on this breaker.
	breaker := c.router.Breaker(route.BackendID)

	adapter := c.adapterFor(route.BackendID, opts)
	result, err := adapter.Complete(ctx, route.Model, prompt, opts)
	latency := time.Since(start).Milliseconds()

	decision := core.RoutingDecision{
		Tier:             tier,
		BackendID:        route.BackendID,
		ModelID:          route.Model.ID,
		FailoverOccurred: route.Failover(),
		FailoverFrom:     route.FailoverFrom,
		LatencyMs:        latency,
		Timestamp:        time.Now(),
	}

	if err != nil {
		breaker.RecordFailure()
		c.auditLog.Append(audit.Entry{
			Decision:     decision,
			BreakerState: breaker.State().String(),
			Description:  audit.TruncateDescription(prompt),
		})
		c.logger.Printf("Backend %s failed for tier %s: %v", route.BackendID, tier, err)
		return core.CompletionResult{}, core.E("llm.complete", core.KindUpstreamUnavailable, err)
	}

	breaker.RecordSuccess()
	if c.metrics != nil {
		c.metrics.RecordCompletion(string(route.BackendID), route.Model.ID,
			result.InputTokens, result.OutputTokens, float64(latency)/1000)
	}
	c.auditLog.Append(audit.Entry{
		Decision:      decision,
		InputTokens:   result.InputTokens,
		OutputTokens:  result.OutputTokens,
		EstimatedCost: route.Model.EstimateCost(result.InputTokens, result.OutputTokens),
		BreakerState:  breaker.State().String(),
		Description:   audit.TruncateDescription(prompt),
	})

	return core.CompletionResult{
		Content:      result.Content,
		BackendID:    route.BackendID,
		ModelID:      route.Model.ID,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		LatencyMs:    latency,
	}, nil
}

func (c *ResilientClient) adapterFor(id core.BackendID, opts Options) Adapter {
	mode := c.mode
	if opts.Mode != "" {
		mode = opts.Mode
	}
	if mode == ModeReal {
		return c.factory.ForBackend(id)
	}
	return c.factory.Mock()
}
