package core

import (
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for comparison using errors.Is(). Components wrap
// these with FrameworkError to add operation context; callers compare
// against the sentinel, never the wrapped message.
var (
	// ValidationError - caller mistake, never retried (spec §7).
	ErrValidation = errors.New("validation error")

	// NotFoundError - absent testId, planId, or configKey.
	ErrNotFound = errors.New("not found")

	// TransientRemoteError - network/timeout/429/503/connection reset
	// from an LLM or storage backend. Always retryable.
	ErrTransientRemote = errors.New("transient remote error")

	// ProviderError - LLM returned non-JSON when JSON required, or an
	// empty completion. Fatal unless separately classified retryable.
	ErrProviderError = errors.New("provider error")

	// DiscoveryFailure - no element-discovery strategy found a selector
	// above threshold. Surfaced as a step recovery failure.
	ErrDiscoveryFailure = errors.New("discovery failure")

	// ExecutorError - browser action could not be performed.
	ErrExecutorError = errors.New("executor error")

	// Circuit breaker / retry plumbing.
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// State errors - terminal records, immutable fields.
	ErrAlreadyTerminal  = errors.New("execution already in terminal state")
	ErrImmutableField   = errors.New("field is immutable")
)

// FrameworkError carries structured context around a sentinel error.
type FrameworkError struct {
	Op      string // e.g. "storage.UpdateExecution"
	Kind    string // e.g. "validation", "not_found", "transient"
	ID      string // entity ID involved, if any
	Message string
	Err     error
}

func (e *FrameworkError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *FrameworkError) Unwrap() error { return e.Err }

func NewFrameworkError(op, kind string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, Err: err}
}

func NewFrameworkErrorWithID(op, kind, id string, err error) *FrameworkError {
	return &FrameworkError{Op: op, Kind: kind, ID: id, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTransient reports whether err is a TransientRemoteError.
func IsTransient(err error) bool { return errors.Is(err, ErrTransientRemote) }

// IsProviderError reports whether err is a ProviderError.
func IsProviderError(err error) bool { return errors.Is(err, ErrProviderError) }

// retryableMessagePattern matches the substrings spec §4.3 names as
// retryable when an error isn't already tagged TransientRemoteError/fatal.
var retryableMessagePattern = regexp.MustCompile(`(?i)timeout|rate limit|429|503|ECONNRESET|EAI_AGAIN|network`)

// IsRetryableMessage classifies an error by message content, per the
// pattern list in spec §4.3. Used by RetryStrategy when an error has not
// been explicitly tagged retryable or fatal.
func IsRetryableMessage(err error) bool {
	if err == nil {
		return false
	}
	if IsTransient(err) {
		return true
	}
	if IsValidation(err) || IsNotFound(err) {
		return false
	}
	return retryableMessagePattern.MatchString(err.Error())
}

// FatalError marks an error as never-retryable regardless of message
// content (e.g. a classified ValidationError wrapped deeper in a chain).
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err was explicitly marked non-retryable.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// RetryableError marks an error as retryable regardless of message
// content, satisfying spec §4.3's "(a) explicitly tagged retryable" rule.
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsExplicitlyRetryable reports whether err was explicitly tagged retryable.
func IsExplicitlyRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
