package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance the breaker's view of time deterministically.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestBreaker(t *testing.T, cfg Config) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	cfg.OnStateChange = nil
	cb, err := New(cfg)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb.now = clock.now
	return cb, clock
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{Name: "anthropic", FailureThreshold: 5})

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
		assert.Equal(t, StateClosed, cb.State())
	}
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanRequest())
}

func TestBreaker_WindowPruningKeepsClosed(t *testing.T) {
	cb, clock := newTestBreaker(t, Config{
		Name:             "openai",
		FailureThreshold: 3,
		MonitoringWindow: time.Minute,
	})

	// Failures spaced wider than the window never accumulate.
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
		clock.advance(61 * time.Second)
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanRequest())
}

func TestBreaker_RecoveryTimeoutToHalfOpen(t *testing.T) {
	cb, clock := newTestBreaker(t, Config{
		Name:             "gemini",
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
	})

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	clock.advance(29 * time.Second)
	assert.Equal(t, StateOpen, cb.State())

	clock.advance(time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.True(t, cb.CanRequest())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(t, Config{
		Name:             "anthropic",
		FailureThreshold: 1,
		SuccessThreshold: 3,
		RecoveryTimeout:  time.Second,
	})

	cb.RecordFailure()
	clock.advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanRequest())
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb, clock := newTestBreaker(t, Config{
		Name:             "anthropic",
		FailureThreshold: 1,
		SuccessThreshold: 3,
		RecoveryTimeout:  time.Second,
	})

	cb.RecordFailure()
	clock.advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanRequest())
}

func TestBreaker_HalfOpenAdmissionCap(t *testing.T) {
	cb, clock := newTestBreaker(t, Config{
		Name:                "openai",
		FailureThreshold:    1,
		RecoveryTimeout:     time.Second,
		HalfOpenMaxRequests: 3,
	})

	cb.RecordFailure()
	clock.advance(2 * time.Second)
	require.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < 3; i++ {
		assert.True(t, cb.CanRequest())
		require.NoError(t, cb.Admit())
	}
	assert.False(t, cb.CanRequest())
	assert.ErrorIs(t, cb.Admit(), ErrTooManyRequests)
}

func TestBreaker_ResetIdempotent(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{Name: "custom", FailureThreshold: 1})

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanRequest())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Snapshot().FailuresInWindow)
}

func TestBreaker_SuccessInClosedIsNoOp(t *testing.T) {
	cb, _ := newTestBreaker(t, Config{Name: "custom", FailureThreshold: 2})

	cb.RecordFailure()
	cb.RecordSuccess() // must not clear the failure window
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreaker_ConfigValidation(t *testing.T) {
	_, err := New(Config{Name: "bad", FailureThreshold: -1})
	assert.Error(t, err)

	cb, err := New(Config{Name: "defaults"})
	require.NoError(t, err)
	assert.Equal(t, 5, cb.cfg.FailureThreshold)
	assert.Equal(t, 3, cb.cfg.SuccessThreshold)
	assert.Equal(t, 30*time.Second, cb.cfg.RecoveryTimeout)
	assert.Equal(t, 3, cb.cfg.HalfOpenMaxRequests)
	assert.Equal(t, 60*time.Second, cb.cfg.MonitoringWindow)
}

func TestManager_CreatesPerBackendBreakers(t *testing.T) {
	m := NewManager(Config{FailureThreshold: 2})

	a := m.Get("anthropic")
	b := m.Get("openai")
	assert.NotSame(t, a, b)
	assert.Same(t, a, m.Get("anthropic"))

	a.RecordFailure()
	a.RecordFailure()
	snaps := m.Snapshots()
	assert.Equal(t, "OPEN", snaps["anthropic"].State)
	assert.Equal(t, "CLOSED", snaps["openai"].State)

	m.ResetAll()
	assert.Equal(t, "CLOSED", m.Snapshots()["anthropic"].State)
}
