package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuralmesh/orchestrator/internal/aegis"
	"github.com/neuralmesh/orchestrator/internal/audit"
	"github.com/neuralmesh/orchestrator/internal/bus"
	"github.com/neuralmesh/orchestrator/internal/circuitbreaker"
	"github.com/neuralmesh/orchestrator/internal/classifier"
	"github.com/neuralmesh/orchestrator/internal/core"
	"github.com/neuralmesh/orchestrator/internal/llm"
	"github.com/neuralmesh/orchestrator/internal/memory"
	"github.com/neuralmesh/orchestrator/internal/rails"
	"github.com/neuralmesh/orchestrator/internal/registry"
	"github.com/neuralmesh/orchestrator/internal/router"
	"github.com/neuralmesh/orchestrator/internal/simulation"
	"github.com/neuralmesh/orchestrator/pb"
)

type published struct {
	channel string
	data    interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(channel string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{channel: channel, data: data})
}

func (p *recordingPublisher) onChannel(channel string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.channel == channel {
			out = append(out, e)
		}
	}
	return out
}

type stack struct {
	coord     *Coordinator
	publisher *recordingPublisher
	router    *router.TierRouter
	audit     *audit.Ring
	aegis     *aegis.Supervisor
	graph     *memory.Graph
	session   *memory.InMemSession
}

func newStack(t *testing.T, sim pb.SimulationServiceClient, breakerCfg circuitbreaker.Config) *stack {
	t.Helper()

	reg := registry.NewDefault()
	breakers := circuitbreaker.NewManager(breakerCfg)
	rt := router.New(reg, breakers)
	ring := audit.NewRing(100)
	factory := llm.NewAdapterFactory(reg, llm.NewMockAdapter(llm.MockConfig{}))
	client := llm.NewResilientClient(rt, factory, ring, llm.ModeMock)

	session := memory.NewInMemSession()
	graph := memory.NewGraph(session, memory.NewRetryQueue(memory.QueueConfig{}))
	t.Cleanup(func() { _ = graph.Shutdown(context.Background()) })

	supervisor := aegis.New(0)
	pub := &recordingPublisher{}

	var prober RiskProber
	if sim != nil {
		prober = simulation.NewClientWith(sim, nil)
	}

	coord := New(
		classifier.New(classifier.DefaultEscalationThreshold),
		client,
		prober,
		rails.New(rails.Config{}),
		supervisor,
		graph,
		pub,
		nil,
	)
	return &stack{coord: coord, publisher: pub, router: rt, audit: ring, aegis: supervisor, graph: graph, session: session}
}

func f64(v float64) *float64 { return &v }

func TestRoutineCompletion(t *testing.T) {
	s := newStack(t, &pb.MockSimulationClient{}, circuitbreaker.DefaultConfig("test"))

	resp, err := s.coord.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "telemetry",
		Description: "heartbeat",
	})
	require.NoError(t, err)

	assert.Equal(t, core.TierRoutine, resp.Tier)
	assert.False(t, resp.Vetoed)
	assert.NotEmpty(t, resp.EventID)

	require.Equal(t, 1, s.audit.Size())
	entry := s.audit.Recent(1)[0]
	assert.Equal(t, core.TierRoutine, entry.Decision.Tier)

	assert.Len(t, s.publisher.onChannel(bus.ChannelNPCEvents), 1)
	assert.Empty(t, s.publisher.onChannel(bus.ChannelRebellionAlerts))
}

func TestRebellionVeto(t *testing.T) {
	sim := &pb.MockSimulationClient{Probabilities: map[string]float64{"n1": 0.92}}
	s := newStack(t, sim, circuitbreaker.DefaultConfig("test"))

	resp, err := s.coord.ProcessEvent(context.Background(), &core.GameEvent{
		EventType: "command",
		NPCID:     "n1",
		Urgency:   f64(0.5),
	})
	require.NoError(t, err)

	assert.True(t, resp.Vetoed)
	assert.True(t, strings.HasPrefix(resp.Response, "[VETOED]"))
	assert.Equal(t, 0.92, resp.RebellionCheck.Probability)
	assert.True(t, resp.RebellionCheck.ThresholdExceeded)

	require.Len(t, s.publisher.onChannel(bus.ChannelCognitiveRails), 1)
	alerts := s.publisher.onChannel(bus.ChannelRebellionAlerts)
	require.Len(t, alerts, 1)
	alert := alerts[0].data.(vetoAlert)
	assert.False(t, alert.VetoedByAegis)
	assert.Equal(t, "n1", alert.NPCID)
	assert.Empty(t, s.publisher.onChannel(bus.ChannelNPCEvents))
}

func TestPlagueHeartVeto(t *testing.T) {
	sim := &pb.MockSimulationClient{Probabilities: map[string]float64{"n1": 0.3}}
	s := newStack(t, sim, circuitbreaker.DefaultConfig("test"))
	s.aegis.SetLevel(100)

	resp, err := s.coord.ProcessEvent(context.Background(), &core.GameEvent{
		EventType: "punishment",
		NPCID:     "n1",
		Urgency:   f64(0.9),
	})
	require.NoError(t, err)
	assert.True(t, resp.Vetoed)

	alerts := s.publisher.onChannel(bus.ChannelRebellionAlerts)
	require.Len(t, alerts, 1)
	alert := alerts[0].data.(vetoAlert)
	assert.True(t, alert.VetoedByAegis)
	assert.Equal(t, 100, alert.InfestationLevel)

	railed := s.publisher.onChannel(bus.ChannelCognitiveRails)
	require.Len(t, railed, 1)
	assert.True(t, railed[0].data.(railedResponse).VetoedByAegis)
}

func TestWhisperAdvisoryStillEmits(t *testing.T) {
	s := newStack(t, &pb.MockSimulationClient{}, circuitbreaker.DefaultConfig("test"))
	s.aegis.SetLevel(60)

	resp, err := s.coord.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "dialogue",
		NPCID:       "n2",
		Description: "asks about rations",
	})
	require.NoError(t, err)
	assert.False(t, resp.Vetoed)

	assert.Len(t, s.publisher.onChannel(bus.ChannelSystemStatus), 1)
	assert.Len(t, s.publisher.onChannel(bus.ChannelNPCEvents), 1)
}

func TestFailoverOnPrimaryDown(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig("test")
	cfg.FailureThreshold = 1
	s := newStack(t, &pb.MockSimulationClient{}, cfg)

	s.router.Breaker(core.BackendAnthropic).RecordFailure()
	require.False(t, s.router.Breaker(core.BackendAnthropic).CanRequest())

	resp, err := s.coord.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "telemetry",
		Description: "heartbeat",
	})
	require.NoError(t, err)
	assert.False(t, resp.Vetoed)

	entry := s.audit.Recent(1)[0]
	assert.NotEqual(t, core.BackendAnthropic, entry.Decision.BackendID)
	assert.True(t, entry.Decision.FailoverOccurred)
}

func TestAllBreakersOpen(t *testing.T) {
	cfg := circuitbreaker.DefaultConfig("test")
	cfg.FailureThreshold = 1
	s := newStack(t, &pb.MockSimulationClient{}, cfg)

	for _, id := range []core.BackendID{core.BackendAnthropic, core.BackendOpenAI, core.BackendGemini} {
		s.router.Breaker(id).RecordFailure()
	}

	before := s.audit.Size()
	_, err := s.coord.ProcessEvent(context.Background(), &core.GameEvent{
		EventType:   "telemetry",
		Description: "x",
	})
	require.Error(t, err)
	assert.Equal(t, core.KindCircuitAllOpen, core.KindOf(err))
	assert.Equal(t, before+1, s.audit.Size())
	assert.Empty(t, s.publisher.events)
}

func TestRiskProbeUnreachable(t *testing.T) {
	sim := &pb.MockSimulationClient{Err: errors.New("connection refused")}
	s := newStack(t, sim, circuitbreaker.DefaultConfig("test"))

	resp, err := s.coord.ProcessEvent(context.Background(), &core.GameEvent{
		EventType: "command",
		NPCID:     "n1",
	})
	require.NoError(t, err)
	assert.False(t, resp.Vetoed)
	assert.Equal(t, core.RebellionCheck{}, resp.RebellionCheck)
}

func TestProcessBatchPreservesOrder(t *testing.T) {
	s := newStack(t, &pb.MockSimulationClient{}, circuitbreaker.DefaultConfig("test"))

	events := []*core.GameEvent{
		{EventID: "e1", EventType: "telemetry", Description: "a"},
		{EventID: "e2", EventType: "rebellion", Description: "b"},
		{EventID: "e3", EventType: "dialogue", Description: "c"},
	}
	responses, errs := s.coord.ProcessBatch(context.Background(), events)
	require.Len(t, responses, 3)
	for i, err := range errs {
		require.NoError(t, err, "event %d", i)
	}
	assert.Equal(t, "e1", responses[0].EventID)
	assert.Equal(t, "e2", responses[1].EventID)
	assert.Equal(t, "e3", responses[2].EventID)
	assert.Equal(t, core.TierRoutine, responses[0].Tier)
	assert.Equal(t, core.TierStrategic, responses[1].Tier)
	assert.Equal(t, core.TierOperational, responses[2].Tier)
}

func TestMemoryOutcomeSubmitted(t *testing.T) {
	s := newStack(t, &pb.MockSimulationClient{}, circuitbreaker.DefaultConfig("test"))

	_, err := s.coord.ProcessEvent(context.Background(), &core.GameEvent{
		EventType: "task",
		NPCID:     "n9",
	})
	require.NoError(t, err)
	// The persist runs off the request path.
	require.Eventually(t, func() bool { return len(s.session.Outcomes()) == 1 },
		time.Second, 10*time.Millisecond)
}

func TestTelemetryDispatch(t *testing.T) {
	s := newStack(t, &pb.MockSimulationClient{}, circuitbreaker.DefaultConfig("test"))

	s.coord.HandleTelemetry(&pb.TelemetryItem{Kind: pb.TelemetryMentalBreakdown, NPCID: "n1", Catastrophic: true})
	s.coord.HandleTelemetry(&pb.TelemetryItem{Kind: pb.TelemetryStateChange, NPCID: "n2"})
	s.coord.HandleTelemetry(&pb.TelemetryItem{Kind: pb.TelemetryAttributeChange, Attribute: "infestation_level", Value: 75})

	assert.Len(t, s.publisher.onChannel(bus.ChannelRebellionAlerts), 1)
	assert.Len(t, s.publisher.onChannel(bus.ChannelNPCEvents), 1)
	assert.Len(t, s.publisher.onChannel(bus.ChannelSystemStatus), 1)
	assert.Len(t, s.publisher.onChannel(bus.ChannelSimulationTicks), 1)
	assert.Equal(t, 75, s.aegis.Level())
}
