package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryStrategy_StopsAfterMaxRetriesPlusOne(t *testing.T) {
	strategy := NewRetryStrategy(nil)
	policy := RetryPolicy{
		MaxRetries:   2,
		Backoff:      BackoffConstant,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
	}

	calls := 0
	err := strategy.Execute(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return errors.New("timeout talking to provider")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "op should run at most MaxRetries+1 times")
}

func TestRetryStrategy_FatalErrorStopsImmediately(t *testing.T) {
	strategy := NewRetryStrategy(nil)
	policy := DefaultRetryPolicy()

	calls := 0
	err := strategy.Execute(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return errors.New("invalid scenario: missing field")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "a non-retryable error should not be retried")
}

func TestRetryStrategy_SucceedsAfterTransientFailures(t *testing.T) {
	strategy := NewRetryStrategy(nil)
	policy := RetryPolicy{
		MaxRetries:   3,
		Backoff:      BackoffConstant,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}

	calls := 0
	var retried []int
	policy.OnRetry = func(err error, attempt int) { retried = append(retried, attempt) }

	err := strategy.Execute(context.Background(), policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("network is unreachable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDelayForAttempt_ExponentialClampsToMaxDelay(t *testing.T) {
	policy := RetryPolicy{
		Backoff:      BackoffExponential,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     1 * time.Second,
	}

	assert.Equal(t, 200*time.Millisecond, delayForAttempt(policy, 1))
	assert.Equal(t, 400*time.Millisecond, delayForAttempt(policy, 2))
	assert.Equal(t, 800*time.Millisecond, delayForAttempt(policy, 3))
	assert.Equal(t, 1*time.Second, delayForAttempt(policy, 4))
	assert.Equal(t, 1*time.Second, delayForAttempt(policy, 10))
}

func TestDelayForAttempt_ConstantIsFlat(t *testing.T) {
	policy := RetryPolicy{Backoff: BackoffConstant, InitialDelay: 50 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 50*time.Millisecond, delayForAttempt(policy, 1))
	assert.Equal(t, 50*time.Millisecond, delayForAttempt(policy, 5))
}

func TestIsRetryable_PatternMatching(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"connection timeout", true},
		{"HTTP 429 Too Many Requests", true},
		{"service returned 503", true},
		{"read: ECONNRESET", true},
		{"getaddrinfo EAI_AGAIN", true},
		{"network is unreachable", true},
		{"invalid JSON payload", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, isRetryable(errors.New(c.msg)), c.msg)
	}
}
