package llm

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/neuralmesh/orchestrator/internal/registry"
)

// ErrForcedFailure is returned by the mock when failure injection is on.
var ErrForcedFailure = errors.New("llm mock: forced failure")

// MockConfig tunes the deterministic mock adapter.
type MockConfig struct {
	// ForceFailure makes every call fail (breaker and failover testing).
	ForceFailure bool

	// MinLatency/MaxLatency bound the simulated call latency. Zero values
	// disable the sleep entirely.
	MinLatency time.Duration
	MaxLatency time.Duration
}

// MockAdapter produces deterministic completions keyed on the prompt prefix.
// Safe for concurrent use; failure injection can be toggled at runtime.
type MockAdapter struct {
	mu  sync.Mutex
	cfg MockConfig
	rng *rand.Rand
}

// NewMockAdapter creates the mock with the given config.
func NewMockAdapter(cfg MockConfig) *MockAdapter {
	return &MockAdapter{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetForceFailure toggles failure injection.
func (m *MockAdapter) SetForceFailure(fail bool) {
	m.mu.Lock()
	m.cfg.ForceFailure = fail
	m.mu.Unlock()
}

// Complete returns a canned response derived from the prompt. The content is
// a pure function of (model, prompt); only latency is randomized.
func (m *MockAdapter) Complete(ctx context.Context, model registry.Model, prompt string, opts Options) (AdapterResult, error) {
	m.mu.Lock()
	cfg := m.cfg
	var sleep time.Duration
	if cfg.MaxLatency > cfg.MinLatency {
		sleep = cfg.MinLatency + time.Duration(m.rng.Int63n(int64(cfg.MaxLatency-cfg.MinLatency)))
	} else {
		sleep = cfg.MinLatency
	}
	m.mu.Unlock()

	if sleep > 0 {
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return AdapterResult{}, ctx.Err()
		}
	}

	if cfg.ForceFailure {
		return AdapterResult{}, ErrForcedFailure
	}

	content := mockContent(model.ID, prompt)
	return AdapterResult{
		Content:      content,
		InputTokens:  approxTokens(prompt),
		OutputTokens: approxTokens(content),
	}, nil
}

// mockContent keys the canned reply on the prompt prefix so pipeline tests
// get stable, tier-recognizable output.
func mockContent(modelID, prompt string) string {
	prefix := prompt
	if idx := strings.IndexByte(prompt, '\n'); idx > 0 {
		prefix = prompt[:idx]
	}
	if len(prefix) > 60 {
		prefix = prefix[:60]
	}

	h := fnv.New32a()
	h.Write([]byte(modelID))
	h.Write([]byte(prompt))
	return fmt.Sprintf("[%s] %s :: directive-%08x", modelID, prefix, h.Sum32())
}

// approxTokens is the usual ~4 chars/token heuristic, floored at 1.
func approxTokens(s string) int {
	n := len(s) / 4
	if n < 1 {
		n = 1
	}
	return n
}
