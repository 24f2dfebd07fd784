// Package pipeline is the orchestration coordinator: it admits game events,
// classifies them into tiers, obtains a completion through the resilient
// client, runs the cognitive rails, and broadcasts the outcome on the
// subscription bus. Memory persistence is fire and forget.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuralmesh/orchestrator/internal/aegis"
	"github.com/neuralmesh/orchestrator/internal/bus"
	"github.com/neuralmesh/orchestrator/internal/classifier"
	"github.com/neuralmesh/orchestrator/internal/core"
	"github.com/neuralmesh/orchestrator/internal/llm"
	"github.com/neuralmesh/orchestrator/internal/memory"
	"github.com/neuralmesh/orchestrator/internal/monitoring"
	"github.com/neuralmesh/orchestrator/internal/rails"
	"github.com/neuralmesh/orchestrator/pb"
)

// Publisher is the broadcast surface the coordinator emits on.
type Publisher interface {
	Publish(channel string, data interface{})
}

// RiskProber is the external rebellion-risk signal.
type RiskProber interface {
	RebellionProbability(ctx context.Context, npcID string) (*pb.RebellionProbabilityResponse, error)
}

// Coordinator wires the admission pipeline end to end.
type Coordinator struct {
	classifier  *classifier.Classifier
	client      *llm.ResilientClient
	prober      RiskProber
	interceptor *rails.Interceptor
	supervisor  *aegis.Supervisor
	graph       *memory.Graph
	publisher   Publisher
	metrics     *monitoring.Metrics
	logger      *log.Logger
}

// New builds a coordinator. prober, graph, and metrics may be nil; the
// corresponding pipeline steps degrade to their fallbacks.
func New(cl *classifier.Classifier, client *llm.ResilientClient, prober RiskProber,
	interceptor *rails.Interceptor, supervisor *aegis.Supervisor, graph *memory.Graph,
	publisher Publisher, metrics *monitoring.Metrics) *Coordinator {
	return &Coordinator{
		classifier:  cl,
		client:      client,
		prober:      prober,
		interceptor: interceptor,
		supervisor:  supervisor,
		graph:       graph,
		publisher:   publisher,
		metrics:     metrics,
		logger:      log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
}

// vetoAlert is the rebellion-alerts record published on a hard deny.
type vetoAlert struct {
	EventID              string    `json:"eventId"`
	NPCID                string    `json:"npcId,omitempty"`
	Reason               string    `json:"reason"`
	RebellionProbability float64   `json:"rebellionProbability"`
	Timestamp            time.Time `json:"timestamp"`
	VetoedByAegis        bool      `json:"vetoedByAegis"`
	InfestationLevel     int       `json:"infestationLevel,omitempty"`
}

// railedResponse is the cognitive-rails channel payload: the pipeline
// response plus the environmental context it was judged under.
type railedResponse struct {
	core.PipelineResponse
	VetoedByAegis    bool `json:"vetoedByAegis"`
	InfestationLevel int  `json:"infestationLevel"`
}

// whisperAdvisory is the system-status payload for a soft environmental
// warning.
type whisperAdvisory struct {
	EventID          string    `json:"eventId"`
	NPCID            string    `json:"npcId,omitempty"`
	Advisory         string    `json:"advisory"`
	InfestationLevel int       `json:"infestationLevel"`
	Timestamp        time.Time `json:"timestamp"`
}

// ProcessEvent runs one game event through the full pipeline. Completion
// failures propagate; risk-probe and memory failures never do.
func (c *Coordinator) ProcessEvent(ctx context.Context, event *core.GameEvent) (*core.PipelineResponse, error) {
	start := time.Now()
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	tier := c.classifier.Classify(event)
	prompt := buildPrompt(tier, event)

	result, err := c.client.Complete(ctx, tier, prompt, llm.Options{})
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordError(string(tier))
		}
		return nil, err
	}

	check := c.probeRisk(ctx, event.NPCID)
	level := c.supervisor.Level()

	railCtx := &rails.Context{
		RiskProbability:  check.Probability,
		CompletionText:   result.Content,
		LatencyMs:        time.Since(start).Milliseconds(),
		InfestationLevel: level,
		EventType:        event.EventType,
		Intensity:        event.Intensity(),
	}
	if c.graph != nil && event.NPCID != "" {
		railCtx.DirectorConfidence = c.graph.DirectorConfidence(ctx, event.NPCID)
	}

	verdict := c.interceptor.EvaluateAll(railCtx)

	resp := &core.PipelineResponse{
		EventID:        event.EventID,
		Tier:           tier,
		Response:       result.Content,
		RebellionCheck: check,
		ProcessingMs:   time.Since(start).Milliseconds(),
	}

	if !verdict.Allowed {
		resp.Vetoed = true
		resp.VetoReason = verdict.Reason
		resp.Response = "[VETOED] " + verdict.Reason
		c.publishVeto(event, resp, verdict, level)
	} else if verdict.RuleViolated == rails.RuleAegisInfestation {
		c.publishWhisper(event, verdict, level)
		c.publisher.Publish(bus.ChannelNPCEvents, resp)
	} else {
		c.publisher.Publish(bus.ChannelNPCEvents, resp)
	}

	if c.metrics != nil {
		c.metrics.RecordEvent(string(tier), resp.Vetoed, time.Since(start).Seconds())
		if !verdict.Allowed {
			c.metrics.RecordVeto(verdict.RuleViolated)
		}
	}

	if c.graph != nil && event.NPCID != "" {
		c.graph.SubmitActionOutcome(event.NPCID, event.EventType, !resp.Vetoed, check.Probability)
	}
	return resp, nil
}

// ProcessBatch runs events concurrently and returns responses in input
// order. A failed event yields a nil response and its error at the same
// index.
func (c *Coordinator) ProcessBatch(ctx context.Context, events []*core.GameEvent) ([]*core.PipelineResponse, []error) {
	responses := make([]*core.PipelineResponse, len(events))
	errs := make([]error, len(events))

	var wg sync.WaitGroup
	for i, event := range events {
		wg.Add(1)
		go func(i int, event *core.GameEvent) {
			defer wg.Done()
			responses[i], errs[i] = c.ProcessEvent(ctx, event)
		}(i, event)
	}
	wg.Wait()
	return responses, errs
}

func (c *Coordinator) publishVeto(event *core.GameEvent, resp *core.PipelineResponse, verdict rails.Result, level int) {
	byAegis := verdict.RuleViolated == rails.RuleAegisInfestation

	c.publisher.Publish(bus.ChannelCognitiveRails, railedResponse{
		PipelineResponse: *resp,
		VetoedByAegis:    byAegis,
		InfestationLevel: level,
	})
	c.publisher.Publish(bus.ChannelRebellionAlerts, vetoAlert{
		EventID:              event.EventID,
		NPCID:                event.NPCID,
		Reason:               verdict.Reason,
		RebellionProbability: resp.RebellionCheck.Probability,
		Timestamp:            time.Now().UTC(),
		VetoedByAegis:        byAegis,
		InfestationLevel:     level,
	})
}

func (c *Coordinator) publishWhisper(event *core.GameEvent, verdict rails.Result, level int) {
	c.publisher.Publish(bus.ChannelSystemStatus, whisperAdvisory{
		EventID:          event.EventID,
		NPCID:            event.NPCID,
		Advisory:         verdict.Reason,
		InfestationLevel: level,
		Timestamp:        time.Now().UTC(),
	})
}

// probeRisk queries the external rebellion signal, substituting a zero check
// whenever the probe is missing, the subject is anonymous, or the call
// fails.
func (c *Coordinator) probeRisk(ctx context.Context, npcID string) core.RebellionCheck {
	if c.prober == nil || npcID == "" {
		return core.RebellionCheck{}
	}
	resp, err := c.prober.RebellionProbability(ctx, npcID)
	if err != nil {
		c.logger.Printf("Risk probe failed for %s, assuming zero: %v", npcID, err)
		return core.RebellionCheck{}
	}
	return core.RebellionCheck{
		Probability:       resp.Probability,
		ThresholdExceeded: resp.ThresholdExceeded,
	}
}

func buildPrompt(tier core.Tier, event *core.GameEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Game event (%s): %s", event.EventType, event.Description)
	if event.NPCID != "" {
		fmt.Fprintf(&b, "\nSubject: %s", event.NPCID)
	}
	if event.Urgency != nil {
		fmt.Fprintf(&b, "\nUrgency: %.2f", *event.Urgency)
	}

	switch tier {
	case core.TierStrategic:
		b.WriteString("\nIssue a decisive directive for this critical situation. State the action and its rationale.")
	case core.TierOperational:
		b.WriteString("\nIssue a concrete work directive for the subject.")
	default:
		b.WriteString("\nAcknowledge the event with a brief ambient directive.")
	}
	return b.String()
}
