// Package resilience gates calls to a remote dependency so that a dead
// dependency is skipped instead of retried on every request.
package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	// Zero disables the breaker.
	MaxFailures int `yaml:"max_failures"`

	// Cooldown is how long the circuit stays open before a probe is let through
	Cooldown time.Duration `yaml:"cooldown"`

	// MaxProbes is the number of calls allowed in flight while half-open
	MaxProbes int `yaml:"max_probes"`

	// SuccessThreshold is the number of consecutive probe successes needed to close again
	SuccessThreshold int `yaml:"success_threshold"`

	// IsFailure classifies the error returned by a call. A nil func counts every
	// non-nil error as a failure.
	IsFailure func(error) bool `yaml:"-"`
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      5,
		Cooldown:         10 * time.Second,
		MaxProbes:        1,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker tracks consecutive failures of a dependency.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	state           int32 // CircuitBreakerState
	failures        int32
	successes       int32
	probes          int32
	epoch           int32 // bumped on every state transition
	lastFailureTime int64 // Unix nano

	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxProbes <= 0 {
		config.MaxProbes = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  int32(StateClosed),
	}
}

func (cb *CircuitBreaker) enabled() bool {
	return cb != nil && cb.config.MaxFailures > 0
}

// Ready reports whether a call would currently be let through, without
// reserving a probe slot.
func (cb *CircuitBreaker) Ready() bool {
	if !cb.enabled() {
		return true
	}
	switch cb.State() {
	case StateOpen:
		return cb.cooledDown()
	case StateHalfOpen:
		return atomic.LoadInt32(&cb.probes) < int32(cb.config.MaxProbes)
	default:
		return true
	}
}

// Permit is one call admitted by Allow. It records whether the call holds a
// half-open probe slot so that only probes give a slot back.
type Permit struct {
	cb    *CircuitBreaker
	probe bool
	epoch int32
}

// Allow reserves the right to make one call. Every successful Allow must be
// paired with a Done on the returned Permit.
func (cb *CircuitBreaker) Allow() (*Permit, error) {
	if !cb.enabled() {
		return &Permit{}, nil
	}
	switch cb.State() {
	case StateClosed:
		return &Permit{cb: cb}, nil
	case StateOpen:
		if !cb.cooledDown() {
			return nil, ErrCircuitBreakerOpen
		}
		cb.TransitionToHalfOpen()
	}
	epoch := atomic.LoadInt32(&cb.epoch)
	for {
		current := atomic.LoadInt32(&cb.probes)
		if current >= int32(cb.config.MaxProbes) {
			return nil, ErrCircuitBreakerOpen
		}
		if atomic.CompareAndSwapInt32(&cb.probes, current, current+1) {
			return &Permit{cb: cb, probe: true, epoch: epoch}, nil
		}
	}
}

// Done records the outcome of the admitted call. Calling it more than once
// has no further effect.
func (p *Permit) Done(err error) {
	if p == nil || p.cb == nil {
		return
	}
	cb := p.cb
	p.cb = nil
	if p.probe {
		cb.releaseProbe(p.epoch)
	}
	if cb.isFailure(err) {
		cb.onFailure()
		return
	}
	cb.onSuccess()
}

// releaseProbe gives back a slot taken in the given half-open period. Slots
// from an earlier period were already dropped by the transition that ended it.
func (cb *CircuitBreaker) releaseProbe(epoch int32) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if atomic.LoadInt32(&cb.epoch) != epoch || cb.State() != StateHalfOpen {
		return
	}
	if atomic.LoadInt32(&cb.probes) > 0 {
		atomic.AddInt32(&cb.probes, -1)
	}
}

// Execute runs fn when the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	permit, err := cb.Allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	permit.Done(err)
	return err
}

func (cb *CircuitBreaker) isFailure(err error) bool {
	if err == nil {
		return false
	}
	if cb.config.IsFailure != nil {
		return cb.config.IsFailure(err)
	}
	return true
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.State() {
	case StateClosed:
		atomic.StoreInt32(&cb.failures, 0)
	case StateHalfOpen:
		if int(atomic.AddInt32(&cb.successes, 1)) >= cb.config.SuccessThreshold {
			cb.transitionToClosed()
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	failures := atomic.AddInt32(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())

	switch cb.State() {
	case StateClosed:
		if int(failures) >= cb.config.MaxFailures {
			cb.transitionToOpen()
		}
	case StateHalfOpen:
		cb.transitionToOpen()
	}
}

func (cb *CircuitBreaker) cooledDown() bool {
	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	return time.Since(time.Unix(0, lastFailure)) >= cb.config.Cooldown
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.AddInt32(&cb.epoch, 1)
	atomic.StoreInt32(&cb.state, int32(StateClosed))
	atomic.StoreInt32(&cb.failures, 0)
	atomic.StoreInt32(&cb.successes, 0)
	atomic.StoreInt32(&cb.probes, 0)
}

func (cb *CircuitBreaker) transitionToOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.AddInt32(&cb.epoch, 1)
	atomic.StoreInt32(&cb.state, int32(StateOpen))
	atomic.StoreInt32(&cb.successes, 0)
	atomic.StoreInt32(&cb.probes, 0)
	atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())
}

// TransitionToHalfOpen transitions the circuit breaker to half-open state
func (cb *CircuitBreaker) TransitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if CircuitBreakerState(atomic.LoadInt32(&cb.state)) == StateHalfOpen {
		return
	}
	atomic.AddInt32(&cb.epoch, 1)
	atomic.StoreInt32(&cb.state, int32(StateHalfOpen))
	atomic.StoreInt32(&cb.successes, 0)
	atomic.StoreInt32(&cb.probes, 0)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	if cb == nil {
		return StateClosed
	}
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	return int(atomic.LoadInt32(&cb.failures))
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.transitionToClosed()
}

// CircuitBreakerStats is a point in time view of a breaker.
type CircuitBreakerStats struct {
	State     string `json:"state"`
	Failures  int    `json:"failures"`
	Successes int    `json:"successes"`
	Probes    int    `json:"probes"`
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	if cb == nil {
		return CircuitBreakerStats{State: StateClosed.String()}
	}
	return CircuitBreakerStats{
		State:     cb.State().String(),
		Failures:  cb.Failures(),
		Successes: int(atomic.LoadInt32(&cb.successes)),
		Probes:    int(atomic.LoadInt32(&cb.probes)),
	}
}
