package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/adaptiveqa/browserpilot/core"
)

// State is one of the three circuit breaker states (spec §4.3).
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// BreakerConfig parameterizes a single key's breaker.
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultBreakerConfig returns the core.Default* resilience thresholds
// (5 failures to open, 2 successes to close, 30s recovery timeout).
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: core.DefaultFailureThreshold,
		SuccessThreshold: core.DefaultSuccessThreshold,
		Timeout:          core.DefaultRecoveryTimeout,
	}
}

// StateChangeListener is notified whenever a key's breaker changes state.
type StateChangeListener func(key string, from, to State)

// breaker is one key's state machine. Counters are protected by mu;
// state is also mirrored into an atomic for lock-free reads via State().
type breaker struct {
	mu               sync.Mutex
	state            atomic.Int32
	config           BreakerConfig
	consecutiveFails int
	consecutiveOK    int
	openedAt         time.Time
	forced           State
	isForced         bool
}

// CircuitBreaker is a per-key registry of independent breakers, matching
// spec §4.3's CLOSED/OPEN/HALF_OPEN state machine. The same registry is
// shared by the orchestrator and by discovery strategies, so every key's
// state is consistent regardless of caller.
type CircuitBreaker struct {
	mu        sync.RWMutex
	breakers  map[string]*breaker
	config    BreakerConfig
	logger    core.Logger
	listeners []StateChangeListener
}

// NewCircuitBreaker builds a registry. config supplies the default
// per-key thresholds; a nil logger is replaced with core.NoOpLogger.
func NewCircuitBreaker(config BreakerConfig, logger core.Logger) *CircuitBreaker {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &CircuitBreaker{
		breakers: make(map[string]*breaker),
		config:   config,
		logger:   logger,
	}
}

// AddStateChangeListener registers a callback invoked on every state
// transition, for any key.
func (cb *CircuitBreaker) AddStateChangeListener(l StateChangeListener) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, l)
}

func (cb *CircuitBreaker) breakerFor(key string) *breaker {
	cb.mu.RLock()
	b, ok := cb.breakers[key]
	cb.mu.RUnlock()
	if ok {
		return b
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if b, ok := cb.breakers[key]; ok {
		return b
	}
	b = &breaker{config: cb.config}
	b.state.Store(int32(StateClosed))
	cb.breakers[key] = b
	return b
}

func (cb *CircuitBreaker) notify(key string, from, to State) {
	if from == to {
		return
	}
	cb.logger.Info("circuit breaker state change", map[string]interface{}{
		"key":  key,
		"from": from.String(),
		"to":   to.String(),
	})
	cb.mu.RLock()
	listeners := append([]StateChangeListener(nil), cb.listeners...)
	cb.mu.RUnlock()
	for _, l := range listeners {
		l(key, from, to)
	}
}

// Execute runs op through key's breaker, per spec §4.3's transition
// table. It returns core.ErrCircuitBreakerOpen without calling op when
// the breaker is OPEN and the recovery timeout has not yet elapsed.
func (cb *CircuitBreaker) Execute(key string, op func() error) error {
	b := cb.breakerFor(key)

	b.mu.Lock()
	state := State(b.state.Load())
	if b.isForced {
		state = b.forced
	}

	if state == StateOpen {
		if !b.isForced && time.Since(b.openedAt) >= b.config.Timeout {
			b.state.Store(int32(StateHalfOpen))
			b.consecutiveOK = 0
			b.mu.Unlock()
			cb.notify(key, StateOpen, StateHalfOpen)
		} else {
			b.mu.Unlock()
			return core.NewFrameworkErrorWithID("CircuitBreaker.Execute", "circuit_open", key, core.ErrCircuitBreakerOpen)
		}
	} else {
		b.mu.Unlock()
	}

	err := op()

	b.mu.Lock()
	defer b.mu.Unlock()
	current := State(b.state.Load())

	if err != nil {
		b.consecutiveFails++
		b.consecutiveOK = 0
		if current == StateHalfOpen || b.consecutiveFails >= b.config.FailureThreshold {
			if current != StateOpen {
				b.state.Store(int32(StateOpen))
				b.openedAt = time.Now()
				go cb.notify(key, current, StateOpen)
			}
		}
		return err
	}

	b.consecutiveFails = 0
	if current == StateHalfOpen {
		b.consecutiveOK++
		if b.consecutiveOK >= b.config.SuccessThreshold {
			b.state.Store(int32(StateClosed))
			go cb.notify(key, StateHalfOpen, StateClosed)
		}
	}
	return nil
}

// State reports key's current state without mutating it.
func (cb *CircuitBreaker) State(key string) State {
	b := cb.breakerFor(key)
	if b.isForced {
		return b.forced
	}
	return State(b.state.Load())
}

// Reset returns key to CLOSED, clearing its failure/success counters.
func (cb *CircuitBreaker) Reset(key string) {
	b := cb.breakerFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	from := State(b.state.Load())
	b.state.Store(int32(StateClosed))
	b.consecutiveFails = 0
	b.consecutiveOK = 0
	b.isForced = false
	cb.notify(key, from, StateClosed)
}

// ResetAll returns every known key to CLOSED.
func (cb *CircuitBreaker) ResetAll() {
	cb.mu.RLock()
	keys := make([]string, 0, len(cb.breakers))
	for k := range cb.breakers {
		keys = append(keys, k)
	}
	cb.mu.RUnlock()
	for _, k := range keys {
		cb.Reset(k)
	}
}

// ForceOpen pins key's breaker to OPEN regardless of its counters, for
// an operator hand-intervening on a stuck dependency.
func (cb *CircuitBreaker) ForceOpen(key string) {
	b := cb.breakerFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isForced = true
	b.forced = StateOpen
}

// ForceClosed pins key's breaker to CLOSED.
func (cb *CircuitBreaker) ForceClosed(key string) {
	b := cb.breakerFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isForced = true
	b.forced = StateClosed
}

// ClearForce removes a Force* override, returning key to its natural
// counter-driven state.
func (cb *CircuitBreaker) ClearForce(key string) {
	b := cb.breakerFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isForced = false
}
