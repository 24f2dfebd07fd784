// Package classifier maps game events onto routing tiers. Classification is
// a pure function: static type-tag sets per tier plus an urgency override.
package classifier

import (
	"strings"

	"github.com/neuralmesh/orchestrator/internal/core"
)

// DefaultEscalationThreshold is the urgency above which any event escalates
// to STRATEGIC regardless of its type tag.
const DefaultEscalationThreshold = 0.8

var (
	routineTypes = map[string]bool{
		"telemetry": true,
		"heartbeat": true,
		"idle":      true,
		"movement":  true,
		"ambient":   true,
	}
	operationalTypes = map[string]bool{
		"command":     true,
		"interaction": true,
		"dialogue":    true,
		"task":        true,
		"work_order":  true,
	}
	strategicTypes = map[string]bool{
		"punishment":    true,
		"rebellion":     true,
		"crisis":        true,
		"confrontation": true,
		"directive":     true,
	}
)

// Classifier assigns tiers to events.
type Classifier struct {
	escalationThreshold float64
}

// New creates a classifier with the given urgency escalation threshold
// (DefaultEscalationThreshold when <= 0).
func New(escalationThreshold float64) *Classifier {
	if escalationThreshold <= 0 {
		escalationThreshold = DefaultEscalationThreshold
	}
	return &Classifier{escalationThreshold: escalationThreshold}
}

// Classify returns the event's tier. Urgency strictly above the escalation
// threshold forces STRATEGIC; otherwise the type tag decides, with unknown
// tags landing on OPERATIONAL as the safe default. Tag matching is
// case-insensitive.
func (c *Classifier) Classify(event *core.GameEvent) core.Tier {
	if event.Urgency != nil && *event.Urgency > c.escalationThreshold {
		return core.TierStrategic
	}

	tag := strings.ToLower(strings.TrimSpace(event.EventType))
	switch {
	case routineTypes[tag]:
		return core.TierRoutine
	case strategicTypes[tag]:
		return core.TierStrategic
	case operationalTypes[tag]:
		return core.TierOperational
	default:
		return core.TierOperational
	}
}
