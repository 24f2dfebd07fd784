// Package simulation is the orchestrator's client for the external
// simulation back-end: the rebellion-risk probe, status/advance/cleansing
// calls, the health hook, and the telemetry stream. Calls route through a
// primary wire protocol (gRPC) with per-call fallback to a secondary
// (HTTP/JSON); dual failure surfaces as a combined error.
package simulation

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/neuralmesh/orchestrator/internal/core"
	"github.com/neuralmesh/orchestrator/pb"
)

// DefaultCallTimeout is the per-call deadline on simulation RPCs.
const DefaultCallTimeout = 5 * time.Second

// Client is the dual-protocol simulation client.
type Client struct {
	primary   pb.SimulationServiceClient
	secondary pb.SimulationServiceClient

	conn          *grpc.ClientConn
	callTimeout   time.Duration
	fallbackCount atomic.Int64
	onFallback    func()
	logger        *log.Logger
}

// Option configures the client.
type Option func(*Client)

// WithCallTimeout overrides the per-call deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// WithFallbackHook registers a callback fired on every fallback to the
// secondary wire, in addition to the internal counter.
func WithFallbackHook(fn func()) Option {
	return func(c *Client) { c.onFallback = fn }
}

// NewClient dials the gRPC endpoint as the primary wire and keeps the
// HTTP endpoint as the fallback. Either address may be empty; at least one
// must be set.
func NewClient(grpcAddr, httpBaseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		callTimeout: DefaultCallTimeout,
		logger:      log.New(log.Writer(), "[SIM] ", log.LstdFlags),
	}

	if grpcAddr != "" {
		conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("simulation: dial %s: %w", grpcAddr, err)
		}
		c.conn = conn
		c.primary = pb.NewSimulationServiceClient(conn)
	}
	if httpBaseURL != "" {
		c.secondary = newHTTPWire(httpBaseURL)
	}
	if c.primary == nil && c.secondary == nil {
		return nil, fmt.Errorf("simulation: no endpoint configured")
	}
	if c.primary == nil {
		// HTTP-only deployment: promote the secondary.
		c.primary = c.secondary
		c.secondary = nil
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientWith wires explicit protocol clients (used by tests and by the
// mock deployment path).
func NewClientWith(primary, secondary pb.SimulationServiceClient, opts ...Option) *Client {
	c := &Client{
		primary:     primary,
		secondary:   secondary,
		callTimeout: DefaultCallTimeout,
		logger:      log.New(log.Writer(), "[SIM] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FallbackCount reports how many calls fell back to the secondary wire.
func (c *Client) FallbackCount() int64 { return c.fallbackCount.Load() }

// Close tears down the gRPC connection.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// call runs fn against the primary, falling back to the secondary on error.
func call[T any](c *Client, ctx context.Context, name string, fn func(context.Context, pb.SimulationServiceClient) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	out, primaryErr := fn(ctx, c.primary)
	if primaryErr == nil {
		return out, nil
	}
	if c.secondary == nil {
		var zero T
		return zero, core.E("simulation."+name, kindFor(ctx, primaryErr), primaryErr)
	}

	c.fallbackCount.Add(1)
	if c.onFallback != nil {
		c.onFallback()
	}
	c.logger.Printf("Primary wire failed for %s, trying fallback: %v", name, primaryErr)

	out, secondaryErr := fn(ctx, c.secondary)
	if secondaryErr == nil {
		return out, nil
	}
	var zero T
	return zero, core.E("simulation."+name, kindFor(ctx, secondaryErr),
		fmt.Errorf("primary: %v; fallback: %w", primaryErr, secondaryErr))
}

func kindFor(ctx context.Context, err error) core.Kind {
	if ctx.Err() == context.DeadlineExceeded {
		return core.KindTimeout
	}
	return core.KindUpstreamUnavailable
}

// RebellionProbability probes the NPC's rebellion risk.
func (c *Client) RebellionProbability(ctx context.Context, npcID string) (*pb.RebellionProbabilityResponse, error) {
	return call(c, ctx, "rebellion_probability", func(ctx context.Context, cl pb.SimulationServiceClient) (*pb.RebellionProbabilityResponse, error) {
		return cl.GetRebellionProbability(ctx, &pb.RebellionProbabilityRequest{NPCID: npcID})
	})
}

// ProcessNPCAction reports an orchestrated action to the simulation.
func (c *Client) ProcessNPCAction(ctx context.Context, npcID, actionType string, intensity float64, description string) (*pb.NPCActionResponse, error) {
	return call(c, ctx, "process_npc_action", func(ctx context.Context, cl pb.SimulationServiceClient) (*pb.NPCActionResponse, error) {
		return cl.ProcessNPCAction(ctx, &pb.NPCActionRequest{
			NPCID:       npcID,
			ActionType:  actionType,
			Intensity:   intensity,
			Description: description,
		})
	})
}

// Status fetches the current simulation tick summary.
func (c *Client) Status(ctx context.Context) (*pb.SimulationStatus, error) {
	return call(c, ctx, "status", func(ctx context.Context, cl pb.SimulationServiceClient) (*pb.SimulationStatus, error) {
		return cl.GetSimulationStatus(ctx, &pb.AdvanceRequest{})
	})
}

// Advance steps the simulation by the given tick count.
func (c *Client) Advance(ctx context.Context, ticks int32) (*pb.SimulationStatus, error) {
	return call(c, ctx, "advance", func(ctx context.Context, cl pb.SimulationServiceClient) (*pb.SimulationStatus, error) {
		return cl.AdvanceSimulation(ctx, &pb.AdvanceRequest{Ticks: ticks})
	})
}

// DeployCleansing dispatches a cleansing operation against the NPC set.
func (c *Client) DeployCleansing(ctx context.Context, npcIDs []string) (*pb.CleansingResponse, error) {
	return call(c, ctx, "cleansing", func(ctx context.Context, cl pb.SimulationServiceClient) (*pb.CleansingResponse, error) {
		return cl.DeployCleansingOperation(ctx, &pb.CleansingRequest{NPCIDs: npcIDs})
	})
}

// Health invokes the back-end health hook.
func (c *Client) Health(ctx context.Context) (*pb.HealthResponse, error) {
	return call(c, ctx, "health", func(ctx context.Context, cl pb.SimulationServiceClient) (*pb.HealthResponse, error) {
		return cl.GetHealth(ctx, &pb.HealthRequest{})
	})
}

// StreamTelemetry opens the telemetry stream on the primary wire only;
// streaming does not fall back.
func (c *Client) StreamTelemetry(ctx context.Context, req *pb.TelemetryRequest) (pb.SimulationService_StreamTelemetryClient, error) {
	return c.primary.StreamTelemetry(ctx, req)
}
