// Package circuitbreaker stops calls to an unhealthy external collaborator
// (the price oracle) until it has had time to recover.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned by Allow while the circuit is open
var ErrOpen = errors.New("circuit breaker open")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, no new operations allowed
	StateHalfOpen              // Testing if the collaborator has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "half-open"
	}
}

// Thresholds defines the limits that will trigger the circuit breaker
type Thresholds struct {
	// Consecutive failures that open the circuit
	FailureThreshold int `json:"failure_threshold"`

	// Failure ratio over the sliding window that opens the circuit, 0 disables
	MaxFailureRatio float64 `json:"max_failure_ratio,omitempty"`

	// Minimum outcomes in the window before the ratio is evaluated
	MinSamples int `json:"min_samples,omitempty"`
}

// CircuitBreaker implements the circuit breaker pattern around a flaky dependency.
type CircuitBreaker struct {
	thresholds Thresholds

	state    State
	lastTrip time.Time

	// Duration before a half-open probe is allowed
	resetDelay time.Duration

	mu sync.RWMutex

	consecutiveFailures int

	// Recent outcomes, true for success
	window []bool

	// Count of consecutive successful operations in HalfOpen state
	successCount int

	// Number of successful operations required to close circuit
	successThreshold int

	onTripCallback func(reason string)
}

const windowSize = 50

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	if t.FailureThreshold <= 0 {
		t.FailureThreshold = 5
	}
	return &CircuitBreaker{
		thresholds:       t,
		state:            StateClosed,
		resetDelay:       30 * time.Second,
		successThreshold: 2,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.resetDelay = delay
	return cb
}

// WithSuccessThreshold sets the number of successful operations needed to close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(threshold int) *CircuitBreaker {
	cb.successThreshold = threshold
	return cb
}

// WithTripCallback sets a callback function that is called when the circuit trips
func (cb *CircuitBreaker) WithTripCallback(callback func(reason string)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// Allow reports whether a call may proceed. An open circuit moves to
// half-open once the reset delay has passed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.RLock()
	state := cb.state
	lastTripTime := cb.lastTrip
	cb.mu.RUnlock()

	if state != StateOpen {
		return nil
	}
	if time.Since(lastTripTime) > cb.resetDelay {
		cb.transitionToHalfOpen()
		return nil
	}
	return ErrOpen
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.record(true)

	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			cb.window = cb.window[:0]
			logrus.Info("Circuit breaker closed: dependency has recovered")
		}
	}
}

// RecordFailure records a failed call and trips the circuit when a threshold is crossed.
func (cb *CircuitBreaker) RecordFailure(cause error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.record(false)

	switch {
	case cb.state == StateHalfOpen:
		cb.trip(fmt.Sprintf("probe failed: %v", cause))
	case cb.state == StateOpen:
	case cb.consecutiveFailures >= cb.thresholds.FailureThreshold:
		cb.trip(fmt.Sprintf("%d consecutive failures, last: %v", cb.consecutiveFailures, cause))
	case cb.thresholds.MaxFailureRatio > 0 && len(cb.window) >= cb.thresholds.MinSamples:
		if ratio := cb.failureRatio(); ratio > cb.thresholds.MaxFailureRatio {
			cb.trip(fmt.Sprintf("failure ratio %.2f exceeds %.2f", ratio, cb.thresholds.MaxFailureRatio))
		}
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.successCount = 0
	cb.consecutiveFailures = 0
	cb.window = cb.window[:0]
	logrus.Info("Circuit breaker manually reset to closed state")
}

// transitionToHalfOpen changes the circuit state to half-open for testing recovery
func (cb *CircuitBreaker) transitionToHalfOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.Info("Circuit breaker half-open: testing dependency recovery")
	}
}

// trip sets the circuit breaker to open state with the current time
func (cb *CircuitBreaker) trip(reason string) {
	cb.state = StateOpen
	cb.lastTrip = time.Now()
	cb.successCount = 0
	logrus.Warnf("Circuit breaker tripped: %s", reason)

	if cb.onTripCallback != nil {
		go cb.onTripCallback(reason)
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.window = append(cb.window, success)
	if len(cb.window) > windowSize {
		cb.window = cb.window[len(cb.window)-windowSize:]
	}
}

func (cb *CircuitBreaker) failureRatio() float64 {
	if len(cb.window) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range cb.window {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(cb.window))
}
