package pb

import (
	"context"

	"google.golang.org/grpc"
)

// Fully-qualified method names of the simulation service.
const (
	MethodGetRebellionProbability  = "/neuralmesh.simulation.SimulationService/GetRebellionProbability"
	MethodProcessNPCAction         = "/neuralmesh.simulation.SimulationService/ProcessNPCAction"
	MethodGetSimulationStatus      = "/neuralmesh.simulation.SimulationService/GetSimulationStatus"
	MethodAdvanceSimulation        = "/neuralmesh.simulation.SimulationService/AdvanceSimulation"
	MethodDeployCleansingOperation = "/neuralmesh.simulation.SimulationService/DeployCleansingOperation"
	MethodGetHealth                = "/neuralmesh.simulation.SimulationService/GetHealth"
	MethodStreamTelemetry          = "/neuralmesh.simulation.SimulationService/StreamTelemetry"
)

// streamTelemetryDesc mirrors the generated stream descriptor.
var streamTelemetryDesc = &grpc.StreamDesc{
	StreamName:    "StreamTelemetry",
	ServerStreams: true,
}

// simulationServiceClient is the concrete gRPC-backed client.
type simulationServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSimulationServiceClient wraps a client connection in the service
// interface, the same shape protoc-gen-go-grpc emits.
func NewSimulationServiceClient(cc grpc.ClientConnInterface) SimulationServiceClient {
	return &simulationServiceClient{cc: cc}
}

func (c *simulationServiceClient) GetRebellionProbability(ctx context.Context, in *RebellionProbabilityRequest, opts ...grpc.CallOption) (*RebellionProbabilityResponse, error) {
	out := new(RebellionProbabilityResponse)
	if err := c.cc.Invoke(ctx, MethodGetRebellionProbability, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *simulationServiceClient) ProcessNPCAction(ctx context.Context, in *NPCActionRequest, opts ...grpc.CallOption) (*NPCActionResponse, error) {
	out := new(NPCActionResponse)
	if err := c.cc.Invoke(ctx, MethodProcessNPCAction, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *simulationServiceClient) GetSimulationStatus(ctx context.Context, in *AdvanceRequest, opts ...grpc.CallOption) (*SimulationStatus, error) {
	out := new(SimulationStatus)
	if err := c.cc.Invoke(ctx, MethodGetSimulationStatus, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *simulationServiceClient) AdvanceSimulation(ctx context.Context, in *AdvanceRequest, opts ...grpc.CallOption) (*SimulationStatus, error) {
	out := new(SimulationStatus)
	if err := c.cc.Invoke(ctx, MethodAdvanceSimulation, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *simulationServiceClient) DeployCleansingOperation(ctx context.Context, in *CleansingRequest, opts ...grpc.CallOption) (*CleansingResponse, error) {
	out := new(CleansingResponse)
	if err := c.cc.Invoke(ctx, MethodDeployCleansingOperation, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *simulationServiceClient) GetHealth(ctx context.Context, in *HealthRequest, opts ...grpc.CallOption) (*HealthResponse, error) {
	out := new(HealthResponse)
	if err := c.cc.Invoke(ctx, MethodGetHealth, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *simulationServiceClient) StreamTelemetry(ctx context.Context, in *TelemetryRequest, opts ...grpc.CallOption) (SimulationService_StreamTelemetryClient, error) {
	stream, err := c.cc.NewStream(ctx, streamTelemetryDesc, MethodStreamTelemetry, opts...)
	if err != nil {
		return nil, err
	}
	x := &telemetryStreamClient{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type telemetryStreamClient struct {
	grpc.ClientStream
}

func (x *telemetryStreamClient) Recv() (*TelemetryItem, error) {
	m := new(TelemetryItem)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
