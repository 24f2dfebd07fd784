// Package registry catalogues language-model backends and their models.
// The registry is read-mostly; mutation happens at startup or through
// operator endpoints, guarded by an internal RWMutex.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/neuralmesh/orchestrator/internal/core"
)

// Model describes one routable model under a backend family.
type Model struct {
	ID              string         `json:"id"`
	BackendID       core.BackendID `json:"backendId"`
	Tier            core.Tier      `json:"tier"`
	DisplayName     string         `json:"displayName"`
	InputCostPer1M  float64        `json:"inputCostPer1M"`
	OutputCostPer1M float64        `json:"outputCostPer1M"`
	MaxOutputTokens int            `json:"maxOutputTokens"`
	DefaultForTier  bool           `json:"defaultForTier"`
}

// EstimateCost prices a completion from token counts.
func (m Model) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1_000_000*m.InputCostPer1M +
		float64(outputTokens)/1_000_000*m.OutputCostPer1M
}

// BackendConfig describes a backend family. Lower Priority is preferred by
// the router.
type BackendConfig struct {
	ID        core.BackendID `json:"id"`
	Priority  int            `json:"priority"`
	Enabled   bool           `json:"enabled"`
	APIKeyEnv string         `json:"apiKeyEnv,omitempty"`
}

// Registry is the mutable backend/model catalogue.
type Registry struct {
	mu       sync.RWMutex
	backends map[core.BackendID]BackendConfig
	models   []Model
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{backends: make(map[core.BackendID]BackendConfig)}
}

// NewDefault seeds the catalogue with the standard three-family deployment.
func NewDefault() *Registry {
	r := New()

	r.AddBackend(BackendConfig{ID: core.BackendAnthropic, Priority: 1, Enabled: true, APIKeyEnv: "ANTHROPIC_API_KEY"})
	r.AddBackend(BackendConfig{ID: core.BackendOpenAI, Priority: 2, Enabled: true, APIKeyEnv: "OPENAI_API_KEY"})
	r.AddBackend(BackendConfig{ID: core.BackendGemini, Priority: 3, Enabled: true, APIKeyEnv: "GEMINI_API_KEY"})

	r.AddModels(
		Model{ID: "claude-3-5-haiku-latest", BackendID: core.BackendAnthropic, Tier: core.TierRoutine,
			DisplayName: "Claude 3.5 Haiku", InputCostPer1M: 0.80, OutputCostPer1M: 4.00,
			MaxOutputTokens: 8192, DefaultForTier: true},
		Model{ID: "claude-sonnet-4-20250514", BackendID: core.BackendAnthropic, Tier: core.TierOperational,
			DisplayName: "Claude Sonnet 4", InputCostPer1M: 3.00, OutputCostPer1M: 15.00,
			MaxOutputTokens: 16384, DefaultForTier: true},
		Model{ID: "claude-opus-4-20250514", BackendID: core.BackendAnthropic, Tier: core.TierStrategic,
			DisplayName: "Claude Opus 4", InputCostPer1M: 15.00, OutputCostPer1M: 75.00,
			MaxOutputTokens: 32768, DefaultForTier: true},

		Model{ID: "gpt-4o-mini", BackendID: core.BackendOpenAI, Tier: core.TierRoutine,
			DisplayName: "GPT-4o mini", InputCostPer1M: 0.15, OutputCostPer1M: 0.60,
			MaxOutputTokens: 16384},
		Model{ID: "gpt-4o", BackendID: core.BackendOpenAI, Tier: core.TierOperational,
			DisplayName: "GPT-4o", InputCostPer1M: 2.50, OutputCostPer1M: 10.00,
			MaxOutputTokens: 16384},
		Model{ID: "o1", BackendID: core.BackendOpenAI, Tier: core.TierStrategic,
			DisplayName: "OpenAI o1", InputCostPer1M: 15.00, OutputCostPer1M: 60.00,
			MaxOutputTokens: 32768},

		Model{ID: "gemini-2.0-flash", BackendID: core.BackendGemini, Tier: core.TierRoutine,
			DisplayName: "Gemini 2.0 Flash", InputCostPer1M: 0.10, OutputCostPer1M: 0.40,
			MaxOutputTokens: 8192},
		Model{ID: "gemini-1.5-pro", BackendID: core.BackendGemini, Tier: core.TierOperational,
			DisplayName: "Gemini 1.5 Pro", InputCostPer1M: 1.25, OutputCostPer1M: 5.00,
			MaxOutputTokens: 8192},
		Model{ID: "gemini-1.5-pro-strategic", BackendID: core.BackendGemini, Tier: core.TierStrategic,
			DisplayName: "Gemini 1.5 Pro (strategic)", InputCostPer1M: 2.50, OutputCostPer1M: 10.00,
			MaxOutputTokens: 8192},
	)

	return r
}

// AddBackend inserts or replaces a backend family.
func (r *Registry) AddBackend(cfg BackendConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[cfg.ID] = cfg
}

// RemoveBackend deletes a backend family and its models.
func (r *Registry) RemoveBackend(id core.BackendID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.backends, id)
	kept := r.models[:0]
	for _, m := range r.models {
		if m.BackendID != id {
			kept = append(kept, m)
		}
	}
	r.models = kept
}

// AddModels appends models to the catalogue.
func (r *Registry) AddModels(models ...Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, models...)
}

// ModelForTier returns the tier's default model.
func (r *Registry) ModelForTier(tier core.Tier) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.models {
		if m.Tier == tier && m.DefaultForTier {
			return m, nil
		}
	}
	return Model{}, fmt.Errorf("registry: no default model for tier %s", tier)
}

// AllModels returns a copy of every catalogued model.
func (r *Registry) AllModels() []Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

// BackendConfig looks up a backend family by id.
func (r *Registry) BackendConfig(id core.BackendID) (BackendConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.backends[id]
	return cfg, ok
}

// EnabledBackends returns enabled backend families in priority order
// (lowest Priority first; ties break on id for determinism).
func (r *Registry) EnabledBackends() []BackendConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BackendConfig, 0, len(r.backends))
	for _, cfg := range r.backends {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FindModelForBackend picks the backend's model for a tier: first the model
// marked default for that tier, then any model of that tier, then any model
// under the backend at all.
func (r *Registry) FindModelForBackend(id core.BackendID, tier core.Tier) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var tierMatch, anyMatch *Model
	for i := range r.models {
		m := &r.models[i]
		if m.BackendID != id {
			continue
		}
		if m.Tier == tier {
			if m.DefaultForTier {
				return *m, true
			}
			if tierMatch == nil {
				tierMatch = m
			}
		}
		if anyMatch == nil {
			anyMatch = m
		}
	}
	if tierMatch != nil {
		return *tierMatch, true
	}
	if anyMatch != nil {
		return *anyMatch, true
	}
	return Model{}, false
}
