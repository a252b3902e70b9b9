package orkestra

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
	// TimeSource defaults to the wall clock.
	TimeSource TimeSource
	// OnStateChange is called after every transition.
	OnStateChange func(from, to CircuitState)
}

// CircuitState represents the state of the circuit breaker
type CircuitState int64

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// CircuitBreaker stops sending requests to a failing service for a while.
// It is lock-free and safe for concurrent use.
type CircuitBreaker struct {
	config      CircuitBreakerConfig
	state       int64
	failures    int64
	lastFailure int64
	successes   int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout == 0 {
		config.RecoveryTimeout = 60 * time.Second
	}
	if config.SuccessThreshold == 0 {
		config.SuccessThreshold = 2
	}
	if config.TimeSource == nil {
		config.TimeSource = SystemTimeSource{}
	}

	return &CircuitBreaker{
		config: config,
		state:  int64(StateClosed),
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	return CircuitState(atomic.LoadInt64(&cb.state))
}

func (cb *CircuitBreaker) transition(from, to CircuitState) bool {
	if !atomic.CompareAndSwapInt64(&cb.state, int64(from), int64(to)) {
		return false
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
	return true
}

// Allow checks if the request should be allowed through the circuit breaker
func (cb *CircuitBreaker) Allow() bool {
	now := cb.config.TimeSource.Now().UnixNano()

	switch cb.State() {
	case StateClosed:
		return true
	case StateOpen:
		lastFailure := atomic.LoadInt64(&cb.lastFailure)
		if now-lastFailure >= int64(cb.config.RecoveryTimeout) {
			if cb.transition(StateOpen, StateHalfOpen) {
				atomic.StoreInt64(&cb.successes, 0)
				return true
			}
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordFailure records a failure in the circuit breaker
func (cb *CircuitBreaker) RecordFailure() {
	atomic.StoreInt64(&cb.lastFailure, cb.config.TimeSource.Now().UnixNano())

	switch cb.State() {
	case StateClosed:
		failures := atomic.AddInt64(&cb.failures, 1)
		if failures >= int64(cb.config.FailureThreshold) {
			cb.transition(StateClosed, StateOpen)
		}
	case StateHalfOpen:
		// A failure while probing reopens the circuit immediately.
		atomic.AddInt64(&cb.failures, 1)
		atomic.StoreInt64(&cb.successes, 0)
		cb.transition(StateHalfOpen, StateOpen)
	}
}

// RecordSuccess records a success in the circuit breaker
func (cb *CircuitBreaker) RecordSuccess() {
	switch cb.State() {
	case StateClosed:
		atomic.StoreInt64(&cb.failures, 0)
	case StateHalfOpen:
		successes := atomic.AddInt64(&cb.successes, 1)
		if successes >= int64(cb.config.SuccessThreshold) {
			if cb.transition(StateHalfOpen, StateClosed) {
				atomic.StoreInt64(&cb.failures, 0)
				atomic.StoreInt64(&cb.successes, 0)
			}
		}
	}
}

// Wrap guards next with the breaker. Transport errors and 5xx responses
// count as failures; an open circuit fails with ErrCircuitOpen without
// calling next.
func (cb *CircuitBreaker) Wrap(next Connector) Connector {
	return ConnectorFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		if !cb.Allow() {
			return nil, &ConnectorError{Kind: ConnectorOther, Err: ErrCircuitOpen}
		}
		resp, err := next.Call(ctx, req)
		if err != nil || resp.StatusCode >= http.StatusInternalServerError {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
		return resp, err
	})
}
