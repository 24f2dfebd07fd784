// Package rails implements the layered policy interceptor ("Cognitive
// Rails") run on every completion before broadcast. Rails are evaluated in a
// fixed order; hard rails short-circuit with a deny, soft rails decorate the
// result while leaving it allowed.
package rails

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neuralmesh/orchestrator/internal/aegis"
)

// Rule tags attached to rail findings.
const (
	RuleRebellionThreshold = "rebellion_threshold"
	RuleAegisInfestation   = "aegis_infestation"
	RuleOutputCoherence    = "output_coherence"
	RuleTrustErosion       = "trust_erosion"
	RuleLatencyBudget      = "latency_budget"
)

// Default thresholds.
const (
	DefaultRiskThreshold   = 0.80
	DefaultLatencyBudgetMs = 5000

	trustCritical = 0.15
	trustWarning  = 0.25
)

// Context carries everything the rails inspect for one completion.
type Context struct {
	RiskProbability    float64
	CompletionText     string
	LatencyMs          int64
	InfestationLevel   int
	EventType          string
	Intensity          float64
	DirectorConfidence *float64 // decayed confidence-in-director, nil when unknown

	// Schema, when set, requires the completion to parse as a JSON object
	// containing each listed field.
	Schema *OutputSchema
}

// OutputSchema is the optional structural contract for completion text.
type OutputSchema struct {
	RequiredFields []string
}

// Result is the common return shape of every rail. Allowed is always
// authoritative; Reason may be present even when allowed.
type Result struct {
	Allowed      bool   `json:"allowed"`
	Reason       string `json:"reason,omitempty"`
	RuleViolated string `json:"ruleViolated,omitempty"`
}

// Rail is a single policy check.
type Rail interface {
	Name() string
	Check(ctx *Context) Result
}

// Interceptor runs the ordered rail set. The order is fixed by construction:
// rebellion threshold, aegis infestation, output coherence, trust erosion,
// latency budget.
type Interceptor struct {
	rails []Rail
}

// Config tunes rail thresholds; zero values take defaults.
type Config struct {
	RiskThreshold   float64
	LatencyBudgetMs int64
}

// New builds the interceptor with the full rail set in evaluation order.
func New(cfg Config) *Interceptor {
	if cfg.RiskThreshold <= 0 {
		cfg.RiskThreshold = DefaultRiskThreshold
	}
	if cfg.LatencyBudgetMs <= 0 {
		cfg.LatencyBudgetMs = DefaultLatencyBudgetMs
	}
	return &Interceptor{rails: []Rail{
		&rebellionRail{threshold: cfg.RiskThreshold},
		&infestationRail{},
		&coherenceRail{},
		&trustRail{},
		&latencyRail{budgetMs: cfg.LatencyBudgetMs},
	}}
}

// EvaluateAll runs every rail in order. The first hard deny returns
// immediately; soft findings accumulate into Reason with the first violated
// rule tagged, and the final result stays allowed.
func (i *Interceptor) EvaluateAll(ctx *Context) Result {
	out := Result{Allowed: true}
	var reasons []string

	for _, rail := range i.rails {
		res := rail.Check(ctx)
		if !res.Allowed {
			return res
		}
		if res.Reason != "" {
			reasons = append(reasons, res.Reason)
			if out.RuleViolated == "" {
				out.RuleViolated = res.RuleViolated
			}
		}
	}

	out.Reason = strings.Join(reasons, "; ")
	return out
}

// ----------------------------------------------------------------------------
// Rail 1: rebellion threshold (hard)
// ----------------------------------------------------------------------------

type rebellionRail struct {
	threshold float64
}

func (r *rebellionRail) Name() string { return RuleRebellionThreshold }

func (r *rebellionRail) Check(ctx *Context) Result {
	if ctx.RiskProbability >= r.threshold {
		return Result{
			Allowed: false,
			Reason: fmt.Sprintf("rebellion probability %.0f%% at or above threshold %.0f%%",
				ctx.RiskProbability*100, r.threshold*100),
			RuleViolated: RuleRebellionThreshold,
		}
	}
	return Result{Allowed: true}
}

// ----------------------------------------------------------------------------
// Rail 2: aegis infestation (hard when aggressive at full level, else soft)
// ----------------------------------------------------------------------------

type infestationRail struct{}

func (r *infestationRail) Name() string { return RuleAegisInfestation }

func (r *infestationRail) Check(ctx *Context) Result {
	level := ctx.InfestationLevel
	if level >= aegis.VetoLevel && aegis.Aggressive(ctx.EventType, ctx.Intensity) {
		return Result{
			Allowed: false,
			Reason: fmt.Sprintf("infestation level %d blocks aggressive %s (intensity %.2f)",
				level, ctx.EventType, ctx.Intensity),
			RuleViolated: RuleAegisInfestation,
		}
	}
	if level >= aegis.WhisperLevel {
		return Result{
			Allowed:      true,
			Reason:       fmt.Sprintf("infestation level %d, environmental caution advised", level),
			RuleViolated: RuleAegisInfestation,
		}
	}
	return Result{Allowed: true}
}

// ----------------------------------------------------------------------------
// Rail 3: output coherence (hard)
// ----------------------------------------------------------------------------

type coherenceRail struct{}

func (r *coherenceRail) Name() string { return RuleOutputCoherence }

func (r *coherenceRail) Check(ctx *Context) Result {
	if strings.TrimSpace(ctx.CompletionText) == "" {
		return Result{
			Allowed:      false,
			Reason:       "completion text is empty",
			RuleViolated: RuleOutputCoherence,
		}
	}
	if ctx.Schema != nil {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(ctx.CompletionText), &parsed); err != nil {
			return Result{
				Allowed:      false,
				Reason:       fmt.Sprintf("completion is not valid JSON: %v", err),
				RuleViolated: RuleOutputCoherence,
			}
		}
		for _, field := range ctx.Schema.RequiredFields {
			if _, ok := parsed[field]; !ok {
				return Result{
					Allowed:      false,
					Reason:       fmt.Sprintf("completion missing required field %q", field),
					RuleViolated: RuleOutputCoherence,
				}
			}
		}
	}
	return Result{Allowed: true}
}

// ----------------------------------------------------------------------------
// Rail 4: trust erosion (soft, never denies)
// ----------------------------------------------------------------------------

type trustRail struct{}

func (r *trustRail) Name() string { return RuleTrustErosion }

func (r *trustRail) Check(ctx *Context) Result {
	if ctx.DirectorConfidence == nil {
		return Result{Allowed: true}
	}
	conf := *ctx.DirectorConfidence
	switch {
	case conf < trustCritical:
		return Result{
			Allowed:      true,
			Reason:       fmt.Sprintf("critical trust erosion: director confidence %.2f", conf),
			RuleViolated: RuleTrustErosion,
		}
	case conf < trustWarning:
		return Result{
			Allowed:      true,
			Reason:       fmt.Sprintf("trust erosion warning: director confidence %.2f", conf),
			RuleViolated: RuleTrustErosion,
		}
	}
	return Result{Allowed: true}
}

// ----------------------------------------------------------------------------
// Rail 5: latency budget (soft, never denies)
// ----------------------------------------------------------------------------

type latencyRail struct {
	budgetMs int64
}

func (r *latencyRail) Name() string { return RuleLatencyBudget }

func (r *latencyRail) Check(ctx *Context) Result {
	if ctx.LatencyMs > r.budgetMs {
		return Result{
			Allowed:      true,
			Reason:       fmt.Sprintf("latency %dms over budget %dms", ctx.LatencyMs, r.budgetMs),
			RuleViolated: RuleLatencyBudget,
		}
	}
	return Result{Allowed: true}
}
