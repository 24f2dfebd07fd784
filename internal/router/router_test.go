package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralmesh/orchestrator/internal/circuitbreaker"
	"github.com/neuralmesh/orchestrator/internal/core"
	"github.com/neuralmesh/orchestrator/internal/registry"
)

func newTestRouter() *TierRouter {
	return New(registry.NewDefault(), circuitbreaker.NewManager(circuitbreaker.Config{
		FailureThreshold: 1,
		OnStateChange:    func(string, circuitbreaker.State, circuitbreaker.State) {},
	}))
}

func TestRoute_PrimaryWhenAllClosed(t *testing.T) {
	r := newTestRouter()

	route, err := r.Route(core.TierRoutine)
	require.NoError(t, err)
	assert.Equal(t, core.BackendAnthropic, route.BackendID)
	assert.Equal(t, "claude-3-5-haiku-latest", route.Model.ID)
	assert.False(t, route.Failover())
}

func TestRoute_FailoverSkipsOpenPrimary(t *testing.T) {
	r := newTestRouter()
	r.Breaker(core.BackendAnthropic).RecordFailure() // trips at threshold 1

	route, err := r.Route(core.TierRoutine)
	require.NoError(t, err)
	assert.Equal(t, core.BackendOpenAI, route.BackendID)
	assert.Equal(t, "gpt-4o-mini", route.Model.ID)
	assert.True(t, route.Failover())
	assert.Equal(t, core.BackendAnthropic, route.FailoverFrom)
}

func TestRoute_AllOpen(t *testing.T) {
	r := newTestRouter()
	for _, id := range []core.BackendID{core.BackendAnthropic, core.BackendOpenAI, core.BackendGemini} {
		r.Breaker(id).RecordFailure()
	}

	_, err := r.Route(core.TierRoutine)
	assert.ErrorIs(t, err, ErrAllCircuitsOpen)
}

func TestRoute_DeterministicForFixedState(t *testing.T) {
	r := newTestRouter()
	r.Breaker(core.BackendAnthropic).RecordFailure()

	first, err := r.Route(core.TierOperational)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := r.Route(core.TierOperational)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRoute_HalfOpenBudgetExhaustedFailsOver(t *testing.T) {
	r := New(registry.NewDefault(), circuitbreaker.NewManager(circuitbreaker.Config{
		FailureThreshold:    1,
		RecoveryTimeout:     time.Millisecond,
		HalfOpenMaxRequests: 1,
		OnStateChange:       func(string, circuitbreaker.State, circuitbreaker.State) {},
	}))
	r.Breaker(core.BackendAnthropic).RecordFailure()
	time.Sleep(5 * time.Millisecond)

	// The first route claims the sole half-open probe slot on the primary.
	first, err := r.Route(core.TierRoutine)
	require.NoError(t, err)
	assert.Equal(t, core.BackendAnthropic, first.BackendID)

	// With the probe budget spent, the next request skips the primary.
	second, err := r.Route(core.TierRoutine)
	require.NoError(t, err)
	assert.Equal(t, core.BackendOpenAI, second.BackendID)
	assert.True(t, second.Failover())
	assert.Equal(t, core.BackendAnthropic, second.FailoverFrom)
}

func TestRoute_ChosenBackendIsAdmissible(t *testing.T) {
	r := newTestRouter()

	route, err := r.Route(core.TierStrategic)
	require.NoError(t, err)
	assert.True(t, r.Breaker(route.BackendID).CanRequest())
}
