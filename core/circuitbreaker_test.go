package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests move time forward without sleeping
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, maxFailures uint32, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	cb, err := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:         maxFailures,
		Timeout:             timeout,
		MaxHalfOpenRequests: 1,
	})
	require.NoError(t, err, "NewCircuitBreaker should succeed with valid config")

	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb.now = clock.Now
	return cb, clock
}

// TestCircuitBreakerBasicFlow tests the basic state transitions
func TestCircuitBreakerBasicFlow(t *testing.T) {
	cb, clock := newTestBreaker(t, 3, time.Minute)

	assert.Equal(t, CircuitBreakerStateClosed, cb.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitBreakerStateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)

	clock.Advance(2 * time.Minute)
	require.NoError(t, cb.Allow(), "first probe after timeout should be allowed")
	assert.Equal(t, CircuitBreakerStateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrTooManyRequests, "only one probe in half-open")

	cb.RecordSuccess()
	assert.Equal(t, CircuitBreakerStateClosed, cb.State())
	assert.Equal(t, uint32(0), cb.Failures())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(t, 1, time.Second)

	cb.RecordFailure()
	require.Equal(t, CircuitBreakerStateOpen, cb.State())

	clock.Advance(2 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()

	assert.Equal(t, CircuitBreakerStateOpen, cb.State())
}

func TestCircuitBreakerExecute(t *testing.T) {
	cb, _ := newTestBreaker(t, 2, time.Minute)
	boom := errors.New("boom")
	notFound := errors.New("not found")
	countAll := func(error) bool { return true }
	ignoreNotFound := func(err error) bool { return !errors.Is(err, notFound) }

	err := cb.Execute(func() error { return notFound }, ignoreNotFound)
	assert.ErrorIs(t, err, notFound)
	assert.Equal(t, uint32(0), cb.Failures(), "ignored errors must not count")

	assert.ErrorIs(t, cb.Execute(func() error { return boom }, countAll), boom)
	assert.ErrorIs(t, cb.Execute(func() error { return boom }, countAll), boom)
	assert.Equal(t, CircuitBreakerStateOpen, cb.State())

	called := false
	err = cb.Execute(func() error { called = true; return nil }, countAll)
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called, "fn must not run while open")
}

func TestCircuitBreakerInvalidConfig(t *testing.T) {
	_, err := NewCircuitBreaker(CircuitBreakerConfig{})
	assert.ErrorIs(t, err, ErrInvalidCircuitBreakerConfig)

	cb, _ := newTestBreaker(t, 1, time.Second)
	cb.RecordFailure()
	cb.Reset()
	assert.Equal(t, CircuitBreakerStateClosed, cb.State())
}
