// Package core holds the shared domain types of the orchestration pipeline:
// game events, tiers, routing decisions, completion results, and pipeline
// responses. Every other internal package depends on core; core depends on
// nothing internal.
package core

import "time"

// Tier is the coarse priority band a classified event lands in. The router
// uses it to select a backend family and model.
type Tier string

const (
	TierRoutine     Tier = "ROUTINE"
	TierOperational Tier = "OPERATIONAL"
	TierStrategic   Tier = "STRATEGIC"
)

// BackendID identifies a language-model backend family.
type BackendID string

const (
	BackendAnthropic BackendID = "anthropic"
	BackendOpenAI    BackendID = "openai"
	BackendGemini    BackendID = "gemini"
	BackendCustom    BackendID = "custom"

	// BackendNone is the synthetic backend recorded on audit entries when
	// routing itself failed and no backend was ever invoked.
	BackendNone BackendID = "none"
)

// GameEvent is the external event descriptor admitted into the pipeline.
// Immutable after admission.
type GameEvent struct {
	EventID     string                 `json:"eventId"`
	NPCID       string                 `json:"npcId,omitempty"`
	EventType   string                 `json:"eventType"`
	Description string                 `json:"description"`
	Urgency     *float64               `json:"urgency,omitempty"` // [0,1], nil when absent
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// Intensity returns the event's urgency, or 0 when absent. Rail evaluation
// treats urgency as action intensity.
func (e *GameEvent) Intensity() float64 {
	if e.Urgency == nil {
		return 0
	}
	return *e.Urgency
}

// RoutingDecision records the outcome of one tier-routing pass.
type RoutingDecision struct {
	Tier             Tier      `json:"tier"`
	BackendID        BackendID `json:"backendId"`
	ModelID          string    `json:"modelId"`
	FailoverOccurred bool      `json:"failoverOccurred"`
	FailoverFrom     BackendID `json:"failoverFrom,omitempty"`
	LatencyMs        int64     `json:"latencyMs"`
	Timestamp        time.Time `json:"timestamp"`
}

// CompletionResult is what a backend adapter (or the mock) produced.
type CompletionResult struct {
	Content      string    `json:"content"`
	BackendID    BackendID `json:"backendId"`
	ModelID      string    `json:"modelId"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	LatencyMs    int64     `json:"latencyMs"`
}

// RebellionCheck is the external risk signal attached to a pipeline response.
type RebellionCheck struct {
	Probability       float64 `json:"probability"`
	ThresholdExceeded bool    `json:"thresholdExceeded"`
}

// PipelineResponse is the terminal result of processing one game event.
// Veto is a successful response: HTTP still returns 200 and the content is
// replaced with a "[VETOED] <reason>" marker.
type PipelineResponse struct {
	EventID        string         `json:"eventId"`
	Tier           Tier           `json:"tier"`
	Response       string         `json:"response"`
	RebellionCheck RebellionCheck `json:"rebellionCheck"`
	Vetoed         bool           `json:"vetoed"`
	VetoReason     string         `json:"vetoReason,omitempty"`
	ProcessingMs   int64          `json:"processingMs"`
}
