package rails

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(f float64) *float64 { return &f }

func allowCtx() *Context {
	return &Context{
		RiskProbability: 0.1,
		CompletionText:  "The foreman nods and returns to work.",
		LatencyMs:       120,
	}
}

func TestRebellionThreshold_Boundary(t *testing.T) {
	i := New(Config{})

	ctx := allowCtx()
	ctx.RiskProbability = 0.79
	assert.True(t, i.EvaluateAll(ctx).Allowed)

	ctx.RiskProbability = 0.80
	res := i.EvaluateAll(ctx)
	assert.False(t, res.Allowed)
	assert.Equal(t, RuleRebellionThreshold, res.RuleViolated)
	assert.Contains(t, res.Reason, "80%")
}

func TestRebellionThreshold_PriorityOverEverything(t *testing.T) {
	i := New(Config{})

	// All other fields would also trip rails; the rebellion rail must win.
	ctx := &Context{
		RiskProbability:  0.95,
		CompletionText:   "",
		InfestationLevel: 100,
		EventType:        "command",
		Intensity:        0.9,
		LatencyMs:        99999,
	}
	res := i.EvaluateAll(ctx)
	assert.False(t, res.Allowed)
	assert.Equal(t, RuleRebellionThreshold, res.RuleViolated)
}

func TestInfestationRail_Boundaries(t *testing.T) {
	i := New(Config{})

	cases := []struct {
		name      string
		level     int
		eventType string
		intensity float64
		allowed   bool
		rule      string
	}{
		{"level 49 allows clean", 49, "command", 0.9, true, ""},
		{"level 50 whispers", 50, "dialogue", 0.1, true, RuleAegisInfestation},
		{"level 99 whispers even aggressive", 99, "punishment", 1.0, true, RuleAegisInfestation},
		{"level 100 vetoes aggressive", 100, "command", 0.9, false, RuleAegisInfestation},
		{"level 100 whispers non-aggressive", 100, "dialogue", 0.9, true, RuleAegisInfestation},
		{"intensity at 0.5 is not aggressive", 100, "command", 0.5, true, RuleAegisInfestation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := allowCtx()
			ctx.InfestationLevel = tc.level
			ctx.EventType = tc.eventType
			ctx.Intensity = tc.intensity
			res := i.EvaluateAll(ctx)
			assert.Equal(t, tc.allowed, res.Allowed)
			assert.Equal(t, tc.rule, res.RuleViolated)
		})
	}
}

func TestCoherenceRail(t *testing.T) {
	i := New(Config{})

	ctx := allowCtx()
	ctx.CompletionText = "   \n\t "
	res := i.EvaluateAll(ctx)
	assert.False(t, res.Allowed)
	assert.Equal(t, RuleOutputCoherence, res.RuleViolated)

	ctx = allowCtx()
	ctx.Schema = &OutputSchema{RequiredFields: []string{"dialogue", "mood"}}
	ctx.CompletionText = `not json at all`
	assert.False(t, i.EvaluateAll(ctx).Allowed)

	ctx.CompletionText = `{"dialogue": "hello"}`
	res = i.EvaluateAll(ctx)
	assert.False(t, res.Allowed)
	assert.Contains(t, res.Reason, "mood")

	ctx.CompletionText = `{"dialogue": "hello", "mood": "wary"}`
	assert.True(t, i.EvaluateAll(ctx).Allowed)
}

func TestTrustErosion_SoftOnly(t *testing.T) {
	i := New(Config{})

	ctx := allowCtx()
	ctx.DirectorConfidence = ptr(0.10)
	res := i.EvaluateAll(ctx)
	assert.True(t, res.Allowed)
	assert.Contains(t, res.Reason, "critical")
	assert.Equal(t, RuleTrustErosion, res.RuleViolated)

	ctx.DirectorConfidence = ptr(0.20)
	res = i.EvaluateAll(ctx)
	assert.True(t, res.Allowed)
	assert.Contains(t, res.Reason, "warning")

	ctx.DirectorConfidence = ptr(0.50)
	res = i.EvaluateAll(ctx)
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Reason)
}

func TestLatencyBudget_SoftOnly(t *testing.T) {
	i := New(Config{LatencyBudgetMs: 1000})

	ctx := allowCtx()
	ctx.LatencyMs = 1001
	res := i.EvaluateAll(ctx)
	assert.True(t, res.Allowed)
	assert.Contains(t, res.Reason, "over budget")
	assert.Equal(t, RuleLatencyBudget, res.RuleViolated)
}

func TestSoftFindingsAccumulate_FirstRuleTagged(t *testing.T) {
	i := New(Config{LatencyBudgetMs: 100})

	ctx := allowCtx()
	ctx.InfestationLevel = 60
	ctx.LatencyMs = 500
	res := i.EvaluateAll(ctx)
	assert.True(t, res.Allowed)
	assert.Equal(t, RuleAegisInfestation, res.RuleViolated)
	assert.Contains(t, res.Reason, "infestation")
	assert.Contains(t, res.Reason, "over budget")
}
