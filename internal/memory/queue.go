// Package memory contains the memory-graph collaborator: the session
// interface persistence ops are applied through, the Redis and Postgres
// session implementations, and the bounded retry queue that defers ops when
// the graph is unreachable.
package memory

import (
	"context"
	"log"
	"sync"
	"time"
)

// Queue defaults.
const (
	DefaultCapacity      = 1000
	DefaultMaxAge        = 300 * time.Second
	DefaultFlushInterval = 5 * time.Second
)

// Op is one deferred persistence command. Method names the graph operation;
// Params is the opaque argument map the session knows how to apply.
type Op struct {
	Method     string                 `json:"method"`
	Params     map[string]interface{} `json:"params"`
	EnqueuedAt time.Time              `json:"enqueuedAt"`
}

// RetryQueue is a drop-oldest ring of deferred ops with age expiry and an
// auto-flush timer.
type RetryQueue struct {
	mu      sync.Mutex
	ops     []Op
	dropped int

	capacity      int
	maxAge        time.Duration
	flushInterval time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool

	onSize    func(n int)
	onDropped func(n int)

	logger *log.Logger
}

// QueueConfig tunes the retry queue; zero values take defaults.
type QueueConfig struct {
	Capacity      int
	MaxAge        time.Duration
	FlushInterval time.Duration

	// OnSize and OnDropped feed external gauges. OnSize receives the
	// pending-op count after every mutation; OnDropped the number of ops
	// just evicted by capacity pressure. Either may be nil.
	OnSize    func(n int)
	OnDropped func(n int)
}

// NewRetryQueue creates a stopped queue; call Start to run auto-flush.
func NewRetryQueue(cfg QueueConfig) *RetryQueue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	return &RetryQueue{
		capacity:      cfg.Capacity,
		maxAge:        cfg.MaxAge,
		flushInterval: cfg.FlushInterval,
		stopCh:        make(chan struct{}),
		onSize:        cfg.OnSize,
		onDropped:     cfg.OnDropped,
		logger:        log.New(log.Writer(), "[MEMQ] ", log.LstdFlags),
	}
}

// Enqueue appends an op, evicting the oldest when capacity is exceeded.
func (q *RetryQueue) Enqueue(op Op) {
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.ops = append(q.ops, op)
	if len(q.ops) > q.capacity {
		evicted := len(q.ops) - q.capacity
		q.ops = q.ops[evicted:]
		q.dropped += evicted
		if q.onDropped != nil {
			q.onDropped(evicted)
		}
	}
	if q.onSize != nil {
		q.onSize(len(q.ops))
	}
}

// Size returns the number of pending ops.
func (q *RetryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Dropped returns the total ops evicted by capacity pressure.
func (q *RetryQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// DrainValid removes and returns every op whose age at now is within the
// max-age window; older ops are discarded.
func (q *RetryQueue) DrainValid(now time.Time) []Op {
	q.mu.Lock()
	defer q.mu.Unlock()

	var valid []Op
	for _, op := range q.ops {
		if now.Sub(op.EnqueuedAt) <= q.maxAge {
			valid = append(valid, op)
		}
	}
	q.ops = q.ops[:0]
	if q.onSize != nil {
		q.onSize(0)
	}
	return valid
}

// Flush drains the valid batch and applies each op through the session.
// The failed op and everything after it re-enter the queue at the tail.
func (q *RetryQueue) Flush(ctx context.Context, session GraphSession) error {
	batch := q.DrainValid(time.Now())
	for i, op := range batch {
		if err := session.Apply(ctx, op); err != nil {
			for _, remaining := range batch[i:] {
				q.Enqueue(remaining)
			}
			return err
		}
	}
	return nil
}

// Start runs the auto-flush timer against the session until DrainAndStop.
func (q *RetryQueue) Start(session GraphSession) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go func() {
		ticker := time.NewTicker(q.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := q.Flush(context.Background(), session); err != nil {
					q.logger.Printf("Auto-flush failed, ops requeued: %v", err)
				}
			case <-q.stopCh:
				return
			}
		}
	}()
}

// DrainAndStop flushes pending ops one final time, then stops the timer.
// Guarantees no pending op is silently dropped at shutdown.
func (q *RetryQueue) DrainAndStop(ctx context.Context, session GraphSession) error {
	err := q.Flush(ctx, session)
	q.stopOnce.Do(func() { close(q.stopCh) })
	return err
}
