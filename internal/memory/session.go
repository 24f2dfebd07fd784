package memory

import (
	"context"
	"log"
	"math"
	"sync"
	"time"
)

// Graph operation method names.
const (
	MethodActionOutcome = "record_action_outcome"
)

// GraphSession applies persistence ops against the external memory graph
// and answers the one cheap read the rails need.
type GraphSession interface {
	// Apply executes a single persistence op. Errors mean the op was not
	// persisted and may be retried.
	Apply(ctx context.Context, op Op) error

	// DirectorConfidence returns the NPC's decayed confidence-in-director
	// in [0,1]. ok is false when the graph has no reading for the NPC.
	DirectorConfidence(ctx context.Context, npcID string) (float64, bool, error)

	Close() error
}

// ActionOutcomeOp builds the persistence op for a pipeline outcome.
func ActionOutcomeOp(npcID, eventType string, success bool, magnitude float64) Op {
	return Op{
		Method: MethodActionOutcome,
		Params: map[string]interface{}{
			"npcId":     npcID,
			"eventType": eventType,
			"success":   success,
			"magnitude": magnitude,
		},
		EnqueuedAt: time.Now(),
	}
}

// Graph is the pipeline's view of the memory collaborator: writes are
// fire-and-forget (direct apply, falling back to the retry queue), reads
// are best-effort.
type Graph struct {
	session GraphSession
	queue   *RetryQueue
	logger  *log.Logger

	applyTimeout time.Duration
	inflight     sync.WaitGroup
}

// NewGraph wires a session behind the retry queue and starts auto-flush.
func NewGraph(session GraphSession, queue *RetryQueue) *Graph {
	g := &Graph{
		session:      session,
		queue:        queue,
		logger:       log.New(log.Writer(), "[MEMORY] ", log.LstdFlags),
		applyTimeout: 2 * time.Second,
	}
	queue.Start(session)
	return g
}

// SubmitActionOutcome persists an action outcome without ever blocking the
// caller: the apply runs on its own goroutine with a bounded deadline, and
// failures are logged and join the retry queue. Shutdown waits for in-flight
// applies before the final drain.
func (g *Graph) SubmitActionOutcome(npcID, eventType string, success bool, magnitude float64) {
	op := ActionOutcomeOp(npcID, eventType, success, magnitude)

	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), g.applyTimeout)
		defer cancel()
		if err := g.session.Apply(ctx, op); err != nil {
			g.logger.Printf("Persist failed for npc=%s, queued for retry: %v", npcID, err)
			g.queue.Enqueue(op)
		}
	}()
}

// DirectorConfidence returns the decayed confidence reading, or nil when
// the graph cannot answer cheaply.
func (g *Graph) DirectorConfidence(ctx context.Context, npcID string) *float64 {
	if npcID == "" {
		return nil
	}
	conf, ok, err := g.session.DirectorConfidence(ctx, npcID)
	if err != nil || !ok {
		return nil
	}
	return &conf
}

// Shutdown waits for in-flight submits, drains the retry queue through the
// session, and closes it.
func (g *Graph) Shutdown(ctx context.Context) error {
	g.inflight.Wait()
	if err := g.queue.DrainAndStop(ctx, g.session); err != nil {
		g.logger.Printf("Final drain left ops behind: %v", err)
	}
	return g.session.Close()
}

// DecayConfidence pulls a stored confidence reading toward the 0.5 neutral
// baseline as it ages. Sessions share this so Redis and Postgres report the
// same decayed value for the same stored row.
func DecayConfidence(stored float64, age time.Duration) float64 {
	const halfLife = time.Hour
	if age <= 0 {
		return stored
	}
	factor := math.Exp2(-float64(age) / float64(halfLife))
	return 0.5 + (stored-0.5)*factor
}
