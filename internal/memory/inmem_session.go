package memory

import (
	"context"
	"sync"
	"time"
)

// InMemSession is the fallback graph session used when no Redis or Postgres
// endpoint is configured, and the workhorse of tests.
type InMemSession struct {
	mu         sync.Mutex
	outcomes   []Op
	confidence map[string]confidenceRow

	// FailApply makes every Apply fail (retry-queue testing).
	FailApply bool
}

type confidenceRow struct {
	value     float64
	updatedAt time.Time
}

// NewInMemSession creates an empty in-memory graph.
func NewInMemSession() *InMemSession {
	return &InMemSession{confidence: make(map[string]confidenceRow)}
}

func (s *InMemSession) Apply(ctx context.Context, op Op) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailApply {
		return context.DeadlineExceeded
	}
	s.outcomes = append(s.outcomes, op)
	return nil
}

func (s *InMemSession) DirectorConfidence(ctx context.Context, npcID string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.confidence[npcID]
	if !ok {
		return 0, false, nil
	}
	return DecayConfidence(row.value, time.Since(row.updatedAt)), true, nil
}

// SetDirectorConfidence stores a fresh reading.
func (s *InMemSession) SetDirectorConfidence(npcID string, value float64) {
	s.mu.Lock()
	s.confidence[npcID] = confidenceRow{value: value, updatedAt: time.Now()}
	s.mu.Unlock()
}

// Outcomes returns a copy of every applied op.
func (s *InMemSession) Outcomes() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Op, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

func (s *InMemSession) Close() error { return nil }
