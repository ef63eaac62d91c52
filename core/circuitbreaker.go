package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitBreakerState is the current mode of a circuit breaker.
type CircuitBreakerState string

const (
	// CircuitBreakerClosed passes requests through and counts failures.
	CircuitBreakerClosed CircuitBreakerState = "closed"
	// CircuitBreakerOpen rejects requests until the cooldown elapses.
	CircuitBreakerOpen CircuitBreakerState = "open"
	// CircuitBreakerHalfOpen admits a limited number of probe requests.
	CircuitBreakerHalfOpen CircuitBreakerState = "half_open"
)

var (
	// ErrCircuitOpen is returned by Allow while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrCircuitProbeLimit is returned when the half-open probe budget is spent.
	ErrCircuitProbeLimit = errors.New("circuit breaker half-open probe limit reached")
	// ErrInvalidCircuitBreakerConfig wraps configuration validation failures.
	ErrInvalidCircuitBreakerConfig = errors.New("invalid circuit breaker configuration")
)

// CircuitBreakerConfig tunes when a breaker trips and how it recovers.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the circuit.
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before probing again.
	Cooldown time.Duration
	// MaxProbes caps concurrent requests admitted in the half-open state.
	MaxProbes uint32
}

// Validate reports the first invalid field, if any.
func (c *CircuitBreakerConfig) Validate() error {
	if c.MaxFailures == 0 {
		return errors.New("MaxFailures must be greater than 0")
	}
	if c.Cooldown <= 0 {
		return errors.New("Cooldown must be greater than 0")
	}
	if c.MaxProbes == 0 {
		return errors.New("MaxProbes must be greater than 0")
	}
	return nil
}

// DefaultCircuitBreakerConfig trips after 5 consecutive failures and probes
// once per minute.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures: 5,
		Cooldown:    60 * time.Second,
		MaxProbes:   1,
	}
}

// CircuitBreaker gates calls to an unreliable downstream. Callers ask Allow
// before each attempt and report the outcome with RecordSuccess or
// RecordFailure.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu           sync.RWMutex
	state        CircuitBreakerState
	failures     uint32
	lastFailure  time.Time
	activeProbes uint32
}

// NewCircuitBreaker builds a closed breaker from cfg.
func NewCircuitBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCircuitBreakerConfig, err)
	}
	return &CircuitBreaker{
		config: cfg,
		state:  CircuitBreakerClosed,
	}, nil
}

// MustNewCircuitBreaker is NewCircuitBreaker for wiring paths where an
// invalid config is a programming error.
func MustNewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb, err := NewCircuitBreaker(cfg)
	if err != nil {
		panic(err)
	}
	return cb
}

// Allow reports whether the caller may attempt a request now. In the open
// state it flips to half-open once the cooldown has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitBreakerClosed:
		return nil

	case CircuitBreakerOpen:
		if time.Since(cb.lastFailure) > cb.config.Cooldown {
			cb.state = CircuitBreakerHalfOpen
			cb.activeProbes = 0
			cb.activeProbes++
			return nil
		}
		return ErrCircuitOpen

	case CircuitBreakerHalfOpen:
		if cb.activeProbes >= cb.config.MaxProbes {
			return ErrCircuitProbeLimit
		}
		cb.activeProbes++
		return nil

	default:
		return nil
	}
}

// RecordSuccess clears the failure count. A successful probe closes the
// circuit. The previous and resulting states are returned so callers can log
// transitions.
func (cb *CircuitBreaker) RecordSuccess() (prev, next CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	prev = cb.state
	switch cb.state {
	case CircuitBreakerClosed:
		cb.failures = 0
	case CircuitBreakerHalfOpen:
		if cb.activeProbes > 0 {
			cb.activeProbes--
		}
		cb.state = CircuitBreakerClosed
		cb.failures = 0
		cb.activeProbes = 0
	}
	next = cb.state
	return prev, next
}

// RecordFailure counts a failed request. Reaching MaxFailures while closed,
// or any failed probe while half-open, opens the circuit.
func (cb *CircuitBreaker) RecordFailure() (prev, next CircuitBreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	prev = cb.state
	cb.lastFailure = time.Now()
	cb.failures++

	switch cb.state {
	case CircuitBreakerClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.state = CircuitBreakerOpen
		}
	case CircuitBreakerHalfOpen:
		if cb.activeProbes > 0 {
			cb.activeProbes--
		}
		cb.state = CircuitBreakerOpen
		cb.activeProbes = 0
	}
	next = cb.state
	return prev, next
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() uint32 {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset forces the breaker back to closed with no recorded failures.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = CircuitBreakerClosed
	cb.failures = 0
	cb.activeProbes = 0
}
