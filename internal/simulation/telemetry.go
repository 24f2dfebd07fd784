package simulation

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/neuralmesh/orchestrator/pb"
)

// ReconnectBackoff is the pause between telemetry stream attempts.
const ReconnectBackoff = 5 * time.Second

// TelemetryHandler consumes one streamed item.
type TelemetryHandler func(item *pb.TelemetryItem)

// TelemetryConsumer keeps a telemetry stream open against the simulation,
// reconnecting after failures until its context is cancelled.
type TelemetryConsumer struct {
	client  *Client
	req     *pb.TelemetryRequest
	handler TelemetryHandler
	backoff time.Duration
	logger  *log.Logger
	done    chan struct{}
}

// NewTelemetryConsumer builds a consumer; nil req subscribes to everything.
func NewTelemetryConsumer(client *Client, req *pb.TelemetryRequest, handler TelemetryHandler) *TelemetryConsumer {
	if req == nil {
		req = &pb.TelemetryRequest{
			IncludeMentalBreakdowns: true,
			IncludePermanentTraumas: true,
			IncludeStateChanges:     true,
		}
	}
	return &TelemetryConsumer{
		client:  client,
		req:     req,
		handler: handler,
		backoff: ReconnectBackoff,
		logger:  log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		done:    make(chan struct{}),
	}
}

// Start runs the consume loop in a goroutine until ctx is cancelled.
func (tc *TelemetryConsumer) Start(ctx context.Context) {
	go func() {
		defer close(tc.done)
		for {
			if err := tc.consumeOnce(ctx); err != nil && ctx.Err() == nil {
				tc.logger.Printf("Telemetry stream ended: %v (reconnecting in %s)", err, tc.backoff)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(tc.backoff):
			}
		}
	}()
}

// Wait blocks until the consume loop has exited.
func (tc *TelemetryConsumer) Wait() { <-tc.done }

func (tc *TelemetryConsumer) consumeOnce(ctx context.Context) error {
	stream, err := tc.client.StreamTelemetry(ctx, tc.req)
	if err != nil {
		return err
	}
	for {
		item, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		tc.handler(item)
	}
}
