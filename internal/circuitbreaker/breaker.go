// Package circuitbreaker implements per-backend failure tracking with a
// three-state machine (closed / open / half-open). Each breaker keeps a
// rolling window of failure timestamps while closed; crossing the failure
// threshold inside the monitoring window opens the circuit, and recovery is
// probed through a bounded half-open phase.
package circuitbreaker

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Failure threshold exceeded, requests blocked
	StateHalfOpen              // Testing if backend recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Common errors
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// ============================================================================
// CONFIGURATION
// ============================================================================

// Config holds circuit breaker configuration. Zero values are replaced with
// defaults at construction; negative values are rejected.
type Config struct {
	// Name identifies this circuit breaker (typically the backend id).
	Name string

	// FailureThreshold is the number of failures inside MonitoringWindow
	// that trips the breaker open.
	FailureThreshold int

	// SuccessThreshold is the number of half-open successes required to
	// close the breaker again.
	SuccessThreshold int

	// RecoveryTimeout is how long the breaker stays open before admitting
	// half-open probes.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests caps concurrent half-open probes.
	HalfOpenMaxRequests int

	// MonitoringWindow is the rolling window over failure timestamps.
	MonitoringWindow time.Duration

	// OnStateChange is called whenever the circuit state changes.
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig returns the standard backend breaker configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    3,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 3,
		MonitoringWindow:    60 * time.Second,
		OnStateChange: func(name string, from State, to State) {
			log.Printf("[CircuitBreaker:%s] State change: %s -> %s", name, from, to)
		},
	}
}

func (c *Config) validate() error {
	def := DefaultConfig(c.Name)
	if c.FailureThreshold == 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = def.SuccessThreshold
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.HalfOpenMaxRequests == 0 {
		c.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	if c.MonitoringWindow == 0 {
		c.MonitoringWindow = def.MonitoringWindow
	}
	if c.FailureThreshold < 0 || c.SuccessThreshold < 0 ||
		c.RecoveryTimeout < 0 || c.HalfOpenMaxRequests < 0 || c.MonitoringWindow < 0 {
		return fmt.Errorf("circuitbreaker: negative value in config %+v", *c)
	}
	return nil
}

// ============================================================================
// CIRCUIT BREAKER
// ============================================================================

// Snapshot is a lock-guarded copy of breaker internals for observers.
type Snapshot struct {
	Name              string    `json:"name"`
	State             string    `json:"state"`
	FailuresInWindow  int       `json:"failuresInWindow"`
	HalfOpenSuccesses int       `json:"halfOpenSuccesses"`
	HalfOpenAdmitted  int       `json:"halfOpenAdmitted"`
	OpenedAt          time.Time `json:"openedAt,omitempty"`
}

// CircuitBreaker tracks failures for a single backend.
type CircuitBreaker struct {
	cfg Config

	mu                sync.Mutex
	state             State
	failures          []time.Time // failure timestamps while CLOSED
	halfOpenSuccesses int
	halfOpenAdmitted  int
	openedAt          time.Time

	now func() time.Time // test hook
}

// New creates a circuit breaker, applying defaults for zero config fields.
func New(cfg Config) (*CircuitBreaker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}, nil
}

// MustNew is New for configurations known valid at compile time.
func MustNew(cfg Config) *CircuitBreaker {
	cb, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return cb
}

// Name returns the circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// State returns the current state, promoting OPEN to HALF_OPEN once the
// recovery timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState(cb.now())
}

// CanRequest is the read-only admission gate: CLOSED always admits, OPEN
// never does, HALF_OPEN admits while probe slots remain. Callers that go on
// to issue a request must claim a slot with Admit.
func (cb *CircuitBreaker) CanRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState(cb.now()) {
	case StateClosed:
		return true
	case StateOpen:
		return false
	case StateHalfOpen:
		return cb.halfOpenAdmitted < cb.cfg.HalfOpenMaxRequests
	}
	return false
}

// Admit claims a half-open probe slot. It is a no-op outside HALF_OPEN and
// returns ErrTooManyRequests when every slot is taken.
func (cb *CircuitBreaker) Admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.currentState(cb.now()) != StateHalfOpen {
		return nil
	}
	if cb.halfOpenAdmitted >= cb.cfg.HalfOpenMaxRequests {
		return ErrTooManyRequests
	}
	cb.halfOpenAdmitted++
	return nil
}

// RecordSuccess notes a successful request. In HALF_OPEN, reaching the
// success threshold closes the breaker. In CLOSED it is a no-op.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.currentState(cb.now()) != StateHalfOpen {
		return
	}
	cb.halfOpenSuccesses++
	if cb.halfOpenSuccesses >= cb.cfg.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

// RecordFailure notes a failed request. In CLOSED the failure joins the
// rolling window and may trip the breaker; any HALF_OPEN failure reopens
// immediately; OPEN is a no-op.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	switch cb.currentState(now) {
	case StateClosed:
		cb.failures = append(cb.failures, now)
		cb.pruneFailures(now)
		if len(cb.failures) >= cb.cfg.FailureThreshold {
			cb.setState(StateOpen)
			cb.openedAt = now
		}
	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.openedAt = now
	case StateOpen:
		// no-op
	}
}

// Reset forces the breaker closed and clears every counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
}

// Snapshot returns a consistent copy of the breaker internals.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentState(cb.now())
	return Snapshot{
		Name:              cb.cfg.Name,
		State:             state.String(),
		FailuresInWindow:  len(cb.failures),
		HalfOpenSuccesses: cb.halfOpenSuccesses,
		HalfOpenAdmitted:  cb.halfOpenAdmitted,
		OpenedAt:          cb.openedAt,
	}
}

// currentState must be called with cb.mu held.
func (cb *CircuitBreaker) currentState(now time.Time) State {
	if cb.state == StateOpen && now.Sub(cb.openedAt) >= cb.cfg.RecoveryTimeout {
		cb.setState(StateHalfOpen)
	}
	return cb.state
}

// setState must be called with cb.mu held. Counters are cleared on every
// transition: CLOSED restarts the failure window, HALF_OPEN starts fresh
// probe accounting.
func (cb *CircuitBreaker) setState(state State) {
	prev := cb.state
	cb.state = state
	cb.failures = cb.failures[:0]
	cb.halfOpenSuccesses = 0
	cb.halfOpenAdmitted = 0

	if prev != state && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, prev, state)
	}
}

// pruneFailures must be called with cb.mu held.
func (cb *CircuitBreaker) pruneFailures(now time.Time) {
	cutoff := now.Add(-cb.cfg.MonitoringWindow)
	kept := cb.failures[:0]
	for _, ts := range cb.failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	cb.failures = kept
}

func (cb *CircuitBreaker) String() string {
	snap := cb.Snapshot()
	return fmt.Sprintf("CircuitBreaker[%s: state=%s, failures=%d]",
		snap.Name, snap.State, snap.FailuresInWindow)
}

// ============================================================================
// CIRCUIT BREAKER MANAGER
// ============================================================================

// Manager manages one circuit breaker per backend, created on first use.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      Config // template for new breakers
}

// NewManager creates a manager whose breakers share defaultCfg.
func NewManager(defaultCfg Config) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      defaultCfg,
	}
}

// Get returns the breaker for name, creating it with the shared config.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()

	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = m.breakers[name]; exists {
		return cb
	}

	cfg := m.cfg
	cfg.Name = name
	cb = MustNew(cfg)
	m.breakers[name] = cb
	return cb
}

// Snapshots returns a consistent view of every managed breaker.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Snapshot, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.Snapshot()
	}
	return out
}

// ResetAll forces every managed breaker closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cb := range m.breakers {
		cb.Reset()
	}
}
