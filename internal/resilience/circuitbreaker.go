// Package resilience guards the summary model against flaky backends.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a provider after repeated failures. [FallbackGroup] keeps
// one breaker per configured provider and walks them in order, so a failing
// primary model is bypassed in favour of the next configured fallback.
// [LLMFallback] puts the two together behind the llm.Provider interface.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in logs and metrics, usually the provider name.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 3.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing again.
	// Default: 60s. Summary calls are slow, so this is longer than a typical
	// RPC breaker.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close again.
	// Default: 1.
	HalfOpenMax int

	// OnTransition, if set, is called after every state change with the lock
	// released.
	OnTransition func(name string, from, to State)

	// Clock overrides time.Now. Tests use it to step past the reset timeout.
	Clock func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	onTransition func(name string, from, to State)
	now          func() time.Time
	log          *slog.Logger

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenOK      int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 60 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		onTransition: cfg.OnTransition,
		now:          cfg.Clock,
		log:          cfg.Logger.With("breaker", cfg.Name),
		state:        StateClosed,
	}
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn.
//
// Errors matching one of ignore do not count as failures. The fallback group
// passes context cancellation here so that a user pressing stop never trips
// the breaker of a healthy provider.
func (cb *CircuitBreaker) Execute(fn func() error, ignore ...error) error {
	cb.mu.Lock()
	var moved *transition
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		moved = cb.setState(StateHalfOpen)
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMax {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	probe := cb.state == StateHalfOpen
	if probe {
		cb.halfOpenCalls++
	}
	cb.mu.Unlock()
	cb.notify(moved)

	err := fn()

	cb.mu.Lock()
	switch {
	case err == nil:
		moved = cb.recordSuccess(probe)
	case isAny(err, ignore):
		// Release the probe slot without judging the provider.
		if probe && cb.halfOpenCalls > 0 {
			cb.halfOpenCalls--
		}
		moved = nil
	default:
		moved = cb.recordFailure(probe)
	}
	cb.mu.Unlock()
	cb.notify(moved)
	return err
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool) *transition {
	cb.lastFailure = cb.now()

	if probe {
		cb.consecutiveFail = cb.maxFailures
		return cb.setState(StateOpen)
	}

	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		return cb.setState(StateOpen)
	}
	return nil
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) *transition {
	if !probe {
		cb.consecutiveFail = 0
		return nil
	}
	cb.halfOpenOK++
	if cb.halfOpenOK < cb.halfOpenMax || cb.state != StateHalfOpen {
		return nil
	}
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
	return cb.setState(StateClosed)
}

type transition struct{ from, to State }

// setState changes state and returns the change for notify, or nil when the
// state is unchanged. Must be called with cb.mu held.
func (cb *CircuitBreaker) setState(to State) *transition {
	from := cb.state
	if from == to {
		return nil
	}
	cb.state = to
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil {
		return
	}
	from, to := t.from, t.to
	switch to {
	case StateOpen:
		cb.log.Warn("circuit breaker opened", "from", from.String(), "consecutive_failures", cb.failures())
	default:
		cb.log.Info("circuit breaker state changed", "from", from.String(), "to", to.String())
	}
	if cb.onTransition != nil {
		cb.onTransition(cb.name, from, to)
	}
}

func (cb *CircuitBreaker) failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFail
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	moved := cb.setState(StateClosed)
	cb.consecutiveFail = 0
	cb.halfOpenCalls = 0
	cb.halfOpenOK = 0
	cb.mu.Unlock()
	cb.notify(moved)
}

func isAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
