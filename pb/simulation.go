// Package pb holds the wire types and client interface of the simulation
// back-end's RPC surface. The message structs mirror the service's proto
// definitions; the generated bindings are replaced by hand-rolled types so
// the orchestrator builds without the simulation proto toolchain.
package pb

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// RebellionProbabilityRequest asks for an NPC's current rebellion risk.
type RebellionProbabilityRequest struct {
	NPCID string
}

// RebellionProbabilityResponse is the risk signal fed to the cognitive rails.
type RebellionProbabilityResponse struct {
	NPCID             string
	Probability       float64
	Factors           map[string]float64
	ThresholdExceeded bool
}

// NPCActionRequest reports an orchestrated action back to the simulation.
type NPCActionRequest struct {
	NPCID       string
	ActionType  string
	Intensity   float64
	Description string
}

// NPCActionResponse acknowledges a reported action.
type NPCActionResponse struct {
	Accepted bool
	Message  string
}

// SimulationStatus is the back-end's tick summary.
type SimulationStatus struct {
	Tick             int64
	Population       int32
	InfestationLevel int32
	Resources        map[string]float64
	Timestamp        *timestamppb.Timestamp
}

// AdvanceRequest steps the simulation.
type AdvanceRequest struct {
	Ticks int32
}

// CleansingRequest targets NPCs for a cleansing operation.
type CleansingRequest struct {
	NPCIDs []string
}

// CleansingResponse summarizes the operation.
type CleansingResponse struct {
	Deployed   bool
	Casualties int32
	Message    string
}

// HealthRequest/HealthResponse back the simulation health hook.
type HealthRequest struct{}

type HealthResponse struct {
	Healthy bool
	Detail  string
}

// TelemetryRequest filters the server-side telemetry stream.
type TelemetryRequest struct {
	IncludeMentalBreakdowns bool
	IncludePermanentTraumas bool
	IncludeStateChanges     bool
}

// Telemetry item kinds.
const (
	TelemetryMentalBreakdown = "mental_breakdown"
	TelemetryPermanentTrauma = "permanent_trauma"
	TelemetryStateChange     = "state_change"
	TelemetryAttributeChange = "attribute_change"
)

// TelemetryItem is one streamed simulation occurrence.
type TelemetryItem struct {
	Kind         string
	NPCID        string
	Description  string
	Catastrophic bool

	// Attribute/Value are set for attribute_change items
	// (e.g. Attribute "infestation_level").
	Attribute string
	Value     float64

	Timestamp *timestamppb.Timestamp
}

// SimulationService_StreamTelemetryClient is the telemetry receive stream.
type SimulationService_StreamTelemetryClient interface {
	Recv() (*TelemetryItem, error)
	grpc.ClientStream
}

// SimulationServiceClient is the full RPC surface the orchestrator consumes.
type SimulationServiceClient interface {
	GetRebellionProbability(ctx context.Context, in *RebellionProbabilityRequest, opts ...grpc.CallOption) (*RebellionProbabilityResponse, error)
	ProcessNPCAction(ctx context.Context, in *NPCActionRequest, opts ...grpc.CallOption) (*NPCActionResponse, error)
	GetSimulationStatus(ctx context.Context, in *AdvanceRequest, opts ...grpc.CallOption) (*SimulationStatus, error)
	AdvanceSimulation(ctx context.Context, in *AdvanceRequest, opts ...grpc.CallOption) (*SimulationStatus, error)
	DeployCleansingOperation(ctx context.Context, in *CleansingRequest, opts ...grpc.CallOption) (*CleansingResponse, error)
	GetHealth(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error)
	StreamTelemetry(ctx context.Context, in *TelemetryRequest, opts ...grpc.CallOption) (SimulationService_StreamTelemetryClient, error)
}

// ============================================================================
// MOCK CLIENT
// ============================================================================

// MockSimulationClient is a canned-response client for tests and for
// deployments without a running simulation back-end.
type MockSimulationClient struct {
	// Probability returned per NPC; DefaultProbability otherwise.
	Probabilities      map[string]float64
	DefaultProbability float64

	// Err, when set, is returned by every unary call.
	Err error

	// Telemetry is replayed once by StreamTelemetry, then io.EOF.
	Telemetry []*TelemetryItem
}

func (m *MockSimulationClient) GetRebellionProbability(ctx context.Context, in *RebellionProbabilityRequest, opts ...grpc.CallOption) (*RebellionProbabilityResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	p := m.DefaultProbability
	if v, ok := m.Probabilities[in.NPCID]; ok {
		p = v
	}
	return &RebellionProbabilityResponse{
		NPCID:             in.NPCID,
		Probability:       p,
		Factors:           map[string]float64{"baseline": p},
		ThresholdExceeded: p >= 0.8,
	}, nil
}

func (m *MockSimulationClient) ProcessNPCAction(ctx context.Context, in *NPCActionRequest, opts ...grpc.CallOption) (*NPCActionResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &NPCActionResponse{Accepted: true}, nil
}

func (m *MockSimulationClient) GetSimulationStatus(ctx context.Context, in *AdvanceRequest, opts ...grpc.CallOption) (*SimulationStatus, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &SimulationStatus{Tick: 1, Population: 64, Timestamp: timestamppb.Now()}, nil
}

func (m *MockSimulationClient) AdvanceSimulation(ctx context.Context, in *AdvanceRequest, opts ...grpc.CallOption) (*SimulationStatus, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &SimulationStatus{Tick: 2, Population: 64, Timestamp: timestamppb.Now()}, nil
}

func (m *MockSimulationClient) DeployCleansingOperation(ctx context.Context, in *CleansingRequest, opts ...grpc.CallOption) (*CleansingResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &CleansingResponse{Deployed: true, Message: "operation dispatched"}, nil
}

func (m *MockSimulationClient) GetHealth(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &HealthResponse{Healthy: true}, nil
}

func (m *MockSimulationClient) StreamTelemetry(ctx context.Context, in *TelemetryRequest, opts ...grpc.CallOption) (SimulationService_StreamTelemetryClient, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &mockTelemetryStream{items: m.Telemetry}, nil
}

type mockTelemetryStream struct {
	grpc.ClientStream
	items []*TelemetryItem
	pos   int
}

func (s *mockTelemetryStream) Recv() (*TelemetryItem, error) {
	if s.pos >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}
