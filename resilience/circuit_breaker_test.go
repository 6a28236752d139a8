package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Timeout: 50 * time.Millisecond}, nil)

	for i := 0; i < 3; i++ {
		err := cb.Execute("llm-dom-discovery", func() error { return errors.New("provider error") })
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, cb.State("llm-dom-discovery"))

	err := cb.Execute("llm-dom-discovery", func() error { return nil })
	require.Error(t, err, "a call while OPEN and before timeout should be rejected without invoking op")
}

func TestCircuitBreaker_HalfOpenThenClosedOnSuccesses(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, SuccessThreshold: 2, Timeout: 10 * time.Millisecond}, nil)

	for i := 0; i < 2; i++ {
		_ = cb.Execute("k", func() error { return errors.New("boom") })
	}
	require.Equal(t, StateOpen, cb.State("k"))

	time.Sleep(15 * time.Millisecond)

	require.NoError(t, cb.Execute("k", func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State("k"), "one success in half-open should not yet close")

	require.NoError(t, cb.Execute("k", func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State("k"))
}

func TestCircuitBreaker_HalfOpenFailureReturnsToOpen(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond}, nil)

	_ = cb.Execute("k", func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State("k"))

	time.Sleep(15 * time.Millisecond)

	err := cb.Execute("k", func() error { return errors.New("still failing") })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State("k"))
}

func TestCircuitBreaker_KeysAreIndependent(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute}, nil)

	_ = cb.Execute("a", func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.State("a"))
	assert.Equal(t, StateClosed, cb.State("b"))
}

func TestCircuitBreaker_ResetAndResetAll(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute}, nil)

	_ = cb.Execute("a", func() error { return errors.New("boom") })
	_ = cb.Execute("b", func() error { return errors.New("boom") })
	require.Equal(t, StateOpen, cb.State("a"))
	require.Equal(t, StateOpen, cb.State("b"))

	cb.Reset("a")
	assert.Equal(t, StateClosed, cb.State("a"))
	assert.Equal(t, StateOpen, cb.State("b"))

	cb.ResetAll()
	assert.Equal(t, StateClosed, cb.State("b"))
}

func TestCircuitBreaker_ForceOpenAndClearForce(t *testing.T) {
	cb := NewCircuitBreaker(DefaultBreakerConfig(), nil)

	cb.ForceOpen("k")
	assert.Equal(t, StateOpen, cb.State("k"))
	err := cb.Execute("k", func() error { return nil })
	require.Error(t, err)

	cb.ClearForce("k")
	assert.Equal(t, StateClosed, cb.State("k"))
	require.NoError(t, cb.Execute("k", func() error { return nil }))
}

func TestCircuitBreaker_StateChangeListenerFires(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute}, nil)

	var transitions []string
	done := make(chan struct{}, 4)
	cb.AddStateChangeListener(func(key string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
		done <- struct{}{}
	})

	_ = cb.Execute("k", func() error { return errors.New("boom") })
	<-done

	assert.Contains(t, transitions, "CLOSED->OPEN")
}
