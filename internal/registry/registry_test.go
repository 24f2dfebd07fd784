package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralmesh/orchestrator/internal/core"
)

func TestDefaultRegistry_TierDefaults(t *testing.T) {
	r := NewDefault()

	for _, tier := range []core.Tier{core.TierRoutine, core.TierOperational, core.TierStrategic} {
		m, err := r.ModelForTier(tier)
		require.NoError(t, err, "tier %s", tier)
		assert.Equal(t, core.BackendAnthropic, m.BackendID)
		assert.True(t, m.DefaultForTier)
	}
}

func TestEnabledBackends_PriorityOrder(t *testing.T) {
	r := NewDefault()

	backends := r.EnabledBackends()
	require.Len(t, backends, 3)
	assert.Equal(t, core.BackendAnthropic, backends[0].ID)
	assert.Equal(t, core.BackendOpenAI, backends[1].ID)
	assert.Equal(t, core.BackendGemini, backends[2].ID)
}

func TestEnabledBackends_SkipsDisabled(t *testing.T) {
	r := NewDefault()
	cfg, ok := r.BackendConfig(core.BackendOpenAI)
	require.True(t, ok)
	cfg.Enabled = false
	r.AddBackend(cfg)

	backends := r.EnabledBackends()
	require.Len(t, backends, 2)
	assert.Equal(t, core.BackendAnthropic, backends[0].ID)
	assert.Equal(t, core.BackendGemini, backends[1].ID)
}

func TestFindModelForBackend_Fallbacks(t *testing.T) {
	r := NewDefault()

	// Exact tier match under the secondary backend.
	m, ok := r.FindModelForBackend(core.BackendOpenAI, core.TierRoutine)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini", m.ID)

	// Backend with a single model serves every tier.
	r.AddBackend(BackendConfig{ID: core.BackendCustom, Priority: 9, Enabled: true})
	r.AddModels(Model{ID: "local-llama", BackendID: core.BackendCustom, Tier: core.TierRoutine})
	m, ok = r.FindModelForBackend(core.BackendCustom, core.TierStrategic)
	require.True(t, ok)
	assert.Equal(t, "local-llama", m.ID)

	_, ok = r.FindModelForBackend(core.BackendID("missing"), core.TierRoutine)
	assert.False(t, ok)
}

func TestRemoveBackend_DropsModels(t *testing.T) {
	r := NewDefault()
	before := len(r.AllModels())

	r.RemoveBackend(core.BackendGemini)

	_, ok := r.BackendConfig(core.BackendGemini)
	assert.False(t, ok)
	assert.Less(t, len(r.AllModels()), before)
	_, ok = r.FindModelForBackend(core.BackendGemini, core.TierRoutine)
	assert.False(t, ok)
}

func TestModel_EstimateCost(t *testing.T) {
	m := Model{InputCostPer1M: 3.0, OutputCostPer1M: 15.0}
	assert.InDelta(t, 0.0105, m.EstimateCost(1000, 500), 1e-9)
}
