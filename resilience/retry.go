package resilience

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/adaptiveqa/browserpilot/core"
)

// BackoffKind selects the delay sequence RetryStrategy.Execute uses
// between attempts (spec §4.3).
type BackoffKind string

const (
	BackoffConstant    BackoffKind = "constant"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy mirrors the policy shape of spec §4.3: a bounded number of
// attempts, a delay sequence, and an optional observer called after each
// retryable failure that is followed by another attempt.
type RetryPolicy struct {
	MaxRetries   int
	Backoff      BackoffKind
	InitialDelay time.Duration
	MaxDelay     time.Duration
	OnRetry      func(err error, attempt int)
}

// DefaultRetryPolicy returns the core.Default* resilience defaults
// (3 retries, 200ms initial, 5s cap, exponential).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   core.DefaultMaxRetries,
		Backoff:      BackoffExponential,
		InitialDelay: core.DefaultInitialBackoff,
		MaxDelay:     core.DefaultMaxBackoff,
	}
}

// fixedSequenceBackOff implements backoff.BackOff by returning a
// precomputed delay for each successive call, per the exact formula
// spec §4.3 requires: min(maxDelay, initialDelay*2^(k-1)) for
// exponential, initialDelay for constant. Using the library's sequencing
// here (rather than hand-rolling the retry loop's sleep/cancel plumbing)
// keeps the timer-vs-context-cancellation race handled by the same code
// every caller of cenkalti/backoff already trusts.
type fixedSequenceBackOff struct {
	policy  RetryPolicy
	attempt int
}

func (f *fixedSequenceBackOff) NextBackOff() time.Duration {
	f.attempt++
	return delayForAttempt(f.policy, f.attempt)
}

func (f *fixedSequenceBackOff) Reset() { f.attempt = 0 }

func delayForAttempt(policy RetryPolicy, attempt int) time.Duration {
	if policy.Backoff == BackoffConstant {
		return policy.InitialDelay
	}
	delay := policy.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= policy.MaxDelay {
			return policy.MaxDelay
		}
	}
	if delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}

var retryablePatterns = []string{"timeout", "rate limit", "429", "503", "econnreset", "eai_again", "network"}

// isRetryable classifies err per spec §4.3: explicitly tagged errors
// take precedence, then message-pattern matching.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if core.IsFatal(err) {
		return false
	}
	if core.IsExplicitlyRetryable(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// RetryStrategy runs operations under a RetryPolicy, classifying errors
// as retryable or fatal per spec §4.3.
type RetryStrategy struct {
	logger core.Logger
}

// NewRetryStrategy builds a RetryStrategy. A nil logger is replaced with
// core.NoOpLogger.
func NewRetryStrategy(logger core.Logger) *RetryStrategy {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &RetryStrategy{logger: logger}
}

// Execute runs op, retrying up to policy.MaxRetries additional times
// (so op is called at most MaxRetries+1 times) whenever the returned
// error classifies as retryable. A non-retryable error returns
// immediately without further attempts.
func (r *RetryStrategy) Execute(ctx context.Context, policy RetryPolicy, op func(ctx context.Context) error) error {
	maxTries := uint(policy.MaxRetries) + 1

	attempt := 0
	wrapped := func() (struct{}, error) {
		attempt++
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !isRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if policy.OnRetry != nil && attempt <= policy.MaxRetries {
			policy.OnRetry(err, attempt)
		}
		r.logger.DebugWithContext(ctx, "retrying after retryable error", map[string]interface{}{
			"attempt": attempt,
			"error":   err.Error(),
		})
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(&fixedSequenceBackOff{policy: policy}),
		backoff.WithMaxTries(maxTries),
	)
	if err != nil {
		return fmt.Errorf("retry exhausted after %d attempt(s): %w", attempt, err)
	}
	return nil
}
