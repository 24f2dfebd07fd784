package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neuralmesh/orchestrator/internal/core"
)

func ptr(f float64) *float64 { return &f }

func TestClassify_TypeSets(t *testing.T) {
	c := New(0)

	cases := []struct {
		eventType string
		want      core.Tier
	}{
		{"telemetry", core.TierRoutine},
		{"heartbeat", core.TierRoutine},
		{"command", core.TierOperational},
		{"dialogue", core.TierOperational},
		{"punishment", core.TierStrategic},
		{"rebellion", core.TierStrategic},
		{"TELEMETRY", core.TierRoutine},  // case-insensitive
		{"  Crisis ", core.TierStrategic}, // trimmed
		{"something-new", core.TierOperational}, // unknown -> safe default
		{"", core.TierOperational},
	}
	for _, tc := range cases {
		got := c.Classify(&core.GameEvent{EventType: tc.eventType})
		assert.Equal(t, tc.want, got, "eventType %q", tc.eventType)
	}
}

func TestClassify_UrgencyEscalation(t *testing.T) {
	c := New(0)

	// Strictly greater than the threshold escalates.
	assert.Equal(t, core.TierStrategic,
		c.Classify(&core.GameEvent{EventType: "telemetry", Urgency: ptr(0.81)}))

	// Exactly at the threshold does not.
	assert.Equal(t, core.TierRoutine,
		c.Classify(&core.GameEvent{EventType: "telemetry", Urgency: ptr(0.8)}))

	// Absent urgency never escalates.
	assert.Equal(t, core.TierRoutine,
		c.Classify(&core.GameEvent{EventType: "telemetry"}))
}

func TestClassify_Pure(t *testing.T) {
	c := New(0)
	ev := &core.GameEvent{EventType: "command", Urgency: ptr(0.5)}
	first := c.Classify(ev)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify(ev))
	}
}
