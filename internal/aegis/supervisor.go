// Package aegis holds the process-wide environmental risk level ("plague
// heart infestation") and the allow/whisper/veto rule table that both the
// supervisor endpoint and the cognitive rails evaluate.
package aegis

import (
	"fmt"
	"strings"
	"sync"
)

// Decision is the supervisor's verdict on a proposed NPC action.
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionWhisper Decision = "whisper"
	DecisionVeto    Decision = "veto"
)

// Rule table thresholds. Rail 2 of the cognitive rails shares these.
const (
	WhisperLevel = 50
	VetoLevel    = 100

	// AggressiveIntensity is the intensity strictly above which command and
	// punishment actions count as aggressive.
	AggressiveIntensity = 0.5
)

// Verdict carries the decision plus advisory context.
type Verdict struct {
	Decision           Decision `json:"decision"`
	VetoedBySupervisor bool     `json:"vetoedBySupervisor"`
	Message            string   `json:"message,omitempty"`
}

// Supervisor is the authoritative holder of the infestation level.
type Supervisor struct {
	mu    sync.Mutex
	level int
}

// New creates a supervisor at the given starting level (clamped to [0,100]).
func New(level int) *Supervisor {
	s := &Supervisor{}
	s.SetLevel(level)
	return s
}

// Level returns the current infestation level.
func (s *Supervisor) Level() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// SetLevel updates the level, clamping into [0,100].
func (s *Supervisor) SetLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

// Aggressive reports whether an action type/intensity pair counts as
// aggressive under the rule table.
func Aggressive(actionType string, intensity float64) bool {
	t := strings.ToLower(strings.TrimSpace(actionType))
	return (t == "command" || t == "punishment") && intensity > AggressiveIntensity
}

// EvaluateAction applies the rule table to a proposed action.
//
//	level < 50            -> allow
//	50 <= level < 100     -> whisper
//	level == 100, aggressive -> veto
//	level == 100, other      -> whisper
func (s *Supervisor) EvaluateAction(actionType string, intensity float64, npcID string) Verdict {
	level := s.Level()

	switch {
	case level < WhisperLevel:
		return Verdict{Decision: DecisionAllow}
	case level >= VetoLevel && Aggressive(actionType, intensity):
		return Verdict{
			Decision:           DecisionVeto,
			VetoedBySupervisor: true,
			Message: fmt.Sprintf(
				"aegis veto: infestation level %d blocks aggressive %s (intensity %.2f) against %s",
				level, actionType, intensity, npcID),
		}
	default:
		return Verdict{
			Decision: DecisionWhisper,
			Message:  fmt.Sprintf("aegis whisper: infestation level %d, tread carefully", level),
		}
	}
}
