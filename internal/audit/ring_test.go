package audit

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralmesh/orchestrator/internal/core"
)

func entryWithLatency(tier core.Tier, latencyMs int64, failover bool, desc string) Entry {
	return Entry{
		Decision: core.RoutingDecision{
			Tier:             tier,
			BackendID:        core.BackendAnthropic,
			ModelID:          "claude-3-5-haiku-latest",
			FailoverOccurred: failover,
			LatencyMs:        latencyMs,
		},
		Description: desc,
	}
}

func TestRing_CapacityLaw(t *testing.T) {
	const n = 8
	r := NewRing(n)

	// N+K appends leave exactly the last N, newest first.
	for i := 0; i < n+5; i++ {
		r.Append(entryWithLatency(core.TierRoutine, int64(i), false, fmt.Sprintf("event-%d", i)))
	}
	require.Equal(t, n, r.Size())

	recent := r.Recent(n)
	require.Len(t, recent, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("event-%d", n+4-i), recent[i].Description)
	}
}

func TestRing_RecentBeforeWrap(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 3; i++ {
		r.Append(entryWithLatency(core.TierRoutine, 0, false, fmt.Sprintf("e%d", i)))
	}

	recent := r.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "e2", recent[0].Description)
	assert.Equal(t, "e1", recent[1].Description)

	assert.Len(t, r.Recent(100), 3)
	assert.Nil(t, r.Recent(0))
}

func TestRing_Stats(t *testing.T) {
	r := NewRing(100)
	r.Append(entryWithLatency(core.TierRoutine, 100, false, "a"))
	r.Append(entryWithLatency(core.TierRoutine, 300, true, "b"))
	r.Append(entryWithLatency(core.TierStrategic, 200, false, "c"))

	s := r.Stats()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.FailoverCount)
	assert.InDelta(t, 200.0, s.MeanLatencyMs, 1e-9)
	assert.Equal(t, 2, s.PerTierCount[core.TierRoutine])
	assert.Equal(t, 1, s.PerTierCount[core.TierStrategic])
}

func TestRing_AppendStampsAndTruncates(t *testing.T) {
	r := NewRing(10)
	r.Append(Entry{Description: strings.Repeat("x", 500)})

	e := r.Recent(1)[0]
	assert.NotEmpty(t, e.EntryID)
	assert.False(t, e.Timestamp.IsZero())
	assert.Len(t, e.Description, 200)
}

func TestRing_Clear(t *testing.T) {
	r := NewRing(4)
	for i := 0; i < 6; i++ {
		r.Append(entryWithLatency(core.TierRoutine, 0, false, "x"))
	}
	r.Clear()
	assert.Zero(t, r.Size())
	assert.Zero(t, r.Stats().Total)

	// Ring is reusable after clear.
	r.Append(entryWithLatency(core.TierRoutine, 0, false, "fresh"))
	assert.Equal(t, 1, r.Size())
	assert.Equal(t, "fresh", r.Recent(1)[0].Description)
}
