package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/grpc"

	"github.com/neuralmesh/orchestrator/pb"
)

// httpWire is the REST/JSON rendering of the simulation RPC surface, used
// as the fallback protocol when the gRPC wire is unreachable.
type httpWire struct {
	baseURL string
	http    *http.Client
}

func newHTTPWire(baseURL string) *httpWire {
	return &httpWire{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

func (w *httpWire) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil && method != http.MethodGet {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("simulation http %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (w *httpWire) GetRebellionProbability(ctx context.Context, in *pb.RebellionProbabilityRequest, opts ...grpc.CallOption) (*pb.RebellionProbabilityResponse, error) {
	out := &pb.RebellionProbabilityResponse{}
	if err := w.do(ctx, http.MethodGet, "/simulation/npc/"+in.NPCID+"/rebellion-probability", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *httpWire) ProcessNPCAction(ctx context.Context, in *pb.NPCActionRequest, opts ...grpc.CallOption) (*pb.NPCActionResponse, error) {
	out := &pb.NPCActionResponse{}
	if err := w.do(ctx, http.MethodPost, "/simulation/npc/action", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *httpWire) GetSimulationStatus(ctx context.Context, in *pb.AdvanceRequest, opts ...grpc.CallOption) (*pb.SimulationStatus, error) {
	out := &pb.SimulationStatus{}
	if err := w.do(ctx, http.MethodGet, "/simulation/status", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *httpWire) AdvanceSimulation(ctx context.Context, in *pb.AdvanceRequest, opts ...grpc.CallOption) (*pb.SimulationStatus, error) {
	out := &pb.SimulationStatus{}
	if err := w.do(ctx, http.MethodPost, "/simulation/advance", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *httpWire) DeployCleansingOperation(ctx context.Context, in *pb.CleansingRequest, opts ...grpc.CallOption) (*pb.CleansingResponse, error) {
	out := &pb.CleansingResponse{}
	if err := w.do(ctx, http.MethodPost, "/simulation/cleansing", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *httpWire) GetHealth(ctx context.Context, in *pb.HealthRequest, opts ...grpc.CallOption) (*pb.HealthResponse, error) {
	out := &pb.HealthResponse{}
	if err := w.do(ctx, http.MethodGet, "/simulation/health", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamTelemetry is not available over the REST fallback.
func (w *httpWire) StreamTelemetry(ctx context.Context, in *pb.TelemetryRequest, opts ...grpc.CallOption) (pb.SimulationService_StreamTelemetryClient, error) {
	return nil, fmt.Errorf("simulation http: telemetry streaming requires the grpc wire")
}
