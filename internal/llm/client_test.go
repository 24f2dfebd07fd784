package llm

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralmesh/orchestrator/internal/audit"
	"github.com/neuralmesh/orchestrator/internal/circuitbreaker"
	"github.com/neuralmesh/orchestrator/internal/core"
	"github.com/neuralmesh/orchestrator/internal/monitoring"
	"github.com/neuralmesh/orchestrator/internal/registry"
	"github.com/neuralmesh/orchestrator/internal/router"
)

func newFixture(failureThreshold int) (*ResilientClient, *audit.Ring, *router.TierRouter, *MockAdapter) {
	reg := registry.NewDefault()
	breakers := circuitbreaker.NewManager(circuitbreaker.Config{
		FailureThreshold: failureThreshold,
		OnStateChange:    func(string, circuitbreaker.State, circuitbreaker.State) {},
	})
	rt := router.New(reg, breakers)
	mock := NewMockAdapter(MockConfig{})
	ring := audit.NewRing(100)
	client := NewResilientClient(rt, NewAdapterFactory(reg, mock), ring, ModeMock)
	return client, ring, rt, mock
}

func TestComplete_SuccessAppendsOneAuditEntry(t *testing.T) {
	client, ring, _, _ := newFixture(5)

	res, err := client.Complete(context.Background(), core.TierRoutine, "heartbeat status check", Options{})
	require.NoError(t, err)
	assert.Equal(t, core.BackendAnthropic, res.BackendID)
	assert.Equal(t, "claude-3-5-haiku-latest", res.ModelID)
	assert.NotEmpty(t, res.Content)
	assert.Positive(t, res.InputTokens)

	require.Equal(t, 1, ring.Size())
	entry := ring.Recent(1)[0]
	assert.Equal(t, core.TierRoutine, entry.Decision.Tier)
	assert.False(t, entry.Decision.FailoverOccurred)
	assert.Equal(t, "CLOSED", entry.BreakerState)
	assert.Positive(t, entry.EstimatedCost)
}

func TestComplete_DeterministicMockContent(t *testing.T) {
	client, _, _, _ := newFixture(5)

	a, err := client.Complete(context.Background(), core.TierRoutine, "same prompt", Options{})
	require.NoError(t, err)
	b, err := client.Complete(context.Background(), core.TierRoutine, "same prompt", Options{})
	require.NoError(t, err)
	assert.Equal(t, a.Content, b.Content)
}

func TestComplete_FailureRecordsBreakerAndAudits(t *testing.T) {
	client, ring, rt, mock := newFixture(5)
	mock.SetForceFailure(true)

	_, err := client.Complete(context.Background(), core.TierRoutine, "x", Options{})
	require.Error(t, err)
	assert.Equal(t, core.KindUpstreamUnavailable, core.KindOf(err))

	assert.Equal(t, 1, ring.Size())
	entry := ring.Recent(1)[0]
	assert.Zero(t, entry.InputTokens)
	assert.Zero(t, entry.OutputTokens)
	assert.Equal(t, 1, rt.Breaker(core.BackendAnthropic).Snapshot().FailuresInWindow)
}

func TestComplete_FailoverToSecondaryAfterTrip(t *testing.T) {
	client, ring, rt, mock := newFixture(1)
	mock.SetForceFailure(true)

	// First call fails and trips anthropic.
	_, err := client.Complete(context.Background(), core.TierRoutine, "x", Options{})
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, rt.Breaker(core.BackendAnthropic).State())

	// Next call routes around the open primary and succeeds.
	mock.SetForceFailure(false)
	res, err := client.Complete(context.Background(), core.TierRoutine, "y", Options{})
	require.NoError(t, err)
	assert.Equal(t, core.BackendOpenAI, res.BackendID)

	entry := ring.Recent(1)[0]
	assert.True(t, entry.Decision.FailoverOccurred)
	assert.Equal(t, core.BackendAnthropic, entry.Decision.FailoverFrom)
}

func TestComplete_RecordsCompletionAndFailoverMetrics(t *testing.T) {
	client, _, rt, mock := newFixture(1)
	m := monitoring.NewMetrics(prometheus.NewRegistry())
	client.SetMetrics(m)

	res, err := client.Complete(context.Background(), core.TierRoutine, "status report", Options{})
	require.NoError(t, err)
	assert.Equal(t, float64(res.InputTokens),
		testutil.ToFloat64(m.TokensConsumed.WithLabelValues("anthropic", "input")))
	assert.Equal(t, float64(res.OutputTokens),
		testutil.ToFloat64(m.TokensConsumed.WithLabelValues("anthropic", "output")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CompletionDuration))
	assert.Zero(t, testutil.ToFloat64(m.FailoversTotal))

	// Trip the primary; the rerouted completion counts one failover.
	mock.SetForceFailure(true)
	_, _ = client.Complete(context.Background(), core.TierRoutine, "x", Options{})
	require.Equal(t, circuitbreaker.StateOpen, rt.Breaker(core.BackendAnthropic).State())
	mock.SetForceFailure(false)

	res, err = client.Complete(context.Background(), core.TierRoutine, "y", Options{})
	require.NoError(t, err)
	assert.Equal(t, core.BackendOpenAI, res.BackendID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FailoversTotal))
}

func TestComplete_AllOpenAuditsPlaceholderAndRaises(t *testing.T) {
	client, ring, rt, mock := newFixture(1)
	mock.SetForceFailure(true)

	// Trip every backend.
	for i := 0; i < 3; i++ {
		_, _ = client.Complete(context.Background(), core.TierRoutine, "x", Options{})
	}
	for _, id := range []core.BackendID{core.BackendAnthropic, core.BackendOpenAI, core.BackendGemini} {
		require.Equal(t, circuitbreaker.StateOpen, rt.Breaker(id).State())
	}
	before := ring.Size()

	_, err := client.Complete(context.Background(), core.TierRoutine, "x", Options{})
	require.Error(t, err)
	assert.Equal(t, core.KindCircuitAllOpen, core.KindOf(err))

	// Audit still grew by exactly one, with the synthetic backend.
	require.Equal(t, before+1, ring.Size())
	entry := ring.Recent(1)[0]
	assert.Equal(t, core.BackendNone, entry.Decision.BackendID)
	assert.Equal(t, "none", entry.Decision.ModelID)
	assert.Equal(t, "OPEN", entry.BreakerState)
	assert.Zero(t, entry.InputTokens)
}

func TestNewResilientClient_ModeResolution(t *testing.T) {
	client, _, _, _ := newFixture(5)
	assert.Equal(t, ModeMock, client.Mode())

	t.Setenv(ModeEnvKey, ModeReal)
	reg := registry.NewDefault()
	rt := router.New(reg, circuitbreaker.NewManager(circuitbreaker.Config{}))
	envClient := NewResilientClient(rt, NewAdapterFactory(reg, nil), audit.NewRing(10), "")
	assert.Equal(t, ModeReal, envClient.Mode())

	// Explicit argument beats the environment hint.
	explicit := NewResilientClient(rt, NewAdapterFactory(reg, nil), audit.NewRing(10), ModeMock)
	assert.Equal(t, ModeMock, explicit.Mode())
}
