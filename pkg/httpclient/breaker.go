package httpclient

import (
	"strings"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its string form.
func (s CircuitState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// CircuitBreaker guards a named external dependency from cascading failure.
// Consecutive failures open the circuit; after the recovery timeout a single
// probe is allowed through, and its outcome decides whether the circuit
// closes again. The breaker is shared by all concurrent callers of a
// dependency, so every state change happens under the mutex.
type CircuitBreaker struct {
	mu              sync.RWMutex
	state           CircuitState
	failures        int // consecutive failures
	halfOpenCount   int
	lastFailureTime time.Time
	lastSuccessTime time.Time

	// Total counters (never reset, for stats/monitoring)
	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
	totalExpected  int64 // failures skipped via the expected-error list

	// config is shared via pointer so the manager can update it at runtime
	// without losing breaker state.
	configMu sync.RWMutex
	config   *CircuitBreakerProfileConfig
}

// NewCircuitBreaker creates a new circuit breaker with the given parameters.
// For runtime-configurable breakers, prefer NewCircuitBreakerWithConfig.
func NewCircuitBreaker(threshold int, recoveryTimeout time.Duration, halfOpenMax int) *CircuitBreaker {
	return NewCircuitBreakerWithConfig(&CircuitBreakerProfileConfig{
		FailureThreshold: threshold,
		RecoveryTimeout:  recoveryTimeout,
		HalfOpenMax:      halfOpenMax,
	})
}

// NewCircuitBreakerWithConfig creates a new circuit breaker with the given config.
// The config pointer can be updated at runtime via UpdateConfig.
func NewCircuitBreakerWithConfig(cfg *CircuitBreakerProfileConfig) *CircuitBreaker {
	if cfg == nil {
		defaultCfg := DefaultProfileConfig()
		cfg = &defaultCfg
	}
	return &CircuitBreaker{
		state:  CircuitClosed,
		config: cfg,
	}
}

// getConfig returns the current config safely.
func (cb *CircuitBreaker) getConfig() *CircuitBreakerProfileConfig {
	cb.configMu.RLock()
	defer cb.configMu.RUnlock()
	return cb.config
}

// UpdateConfig atomically updates the circuit breaker's configuration.
// The circuit breaker state (failures, counters) is preserved.
func (cb *CircuitBreaker) UpdateConfig(cfg *CircuitBreakerProfileConfig) {
	cb.configMu.Lock()
	defer cb.configMu.Unlock()
	cb.config = cfg
}

// Config returns a copy of the current configuration.
func (cb *CircuitBreaker) Config() CircuitBreakerProfileConfig {
	cfg := cb.getConfig()
	if cfg == nil {
		return DefaultProfileConfig()
	}
	return *cfg
}

// Allow returns true if the request should be allowed to proceed.
// In the open state the first call after the recovery timeout flips the
// circuit to half-open and is let through as the probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cfg := cb.getConfig()
	if cfg == nil {
		return true
	}

	switch cb.state {
	case CircuitClosed:
		return true

	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cfg.RecoveryTimeout {
			cb.state = CircuitHalfOpen
			cb.halfOpenCount = 1 // this call is the probe
			return true
		}
		return false

	case CircuitHalfOpen:
		if cb.halfOpenCount < cfg.HalfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful request. In half-open state the circuit
// closes and the failure count resets.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	cb.totalSuccesses++
	cb.lastSuccessTime = time.Now()

	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
	}
	cb.failures = 0
	cb.halfOpenCount = 0
}

// RecordFailure records a failed request without an error value.
func (cb *CircuitBreaker) RecordFailure() {
	cb.recordFailure()
}

// RecordError records the outcome of a failed request. Errors whose message
// matches an entry in the expected-error list are counted separately and do
// not move the circuit: the caller made a mistake the dependency reported
// reliably, so hammering it is not the problem being guarded against.
func (cb *CircuitBreaker) RecordError(err error) {
	if err == nil {
		cb.RecordSuccess()
		return
	}

	if cb.isExpectedError(err.Error()) {
		cb.mu.Lock()
		cb.totalRequests++
		cb.totalExpected++
		cb.mu.Unlock()
		return
	}

	cb.recordFailure()
}

// isExpectedError checks the message against the configured substrings.
func (cb *CircuitBreaker) isExpectedError(message string) bool {
	cfg := cb.getConfig()
	if cfg == nil {
		return false
	}
	lower := strings.ToLower(message)
	for _, fragment := range cfg.ExpectedErrors {
		if fragment != "" && strings.Contains(lower, strings.ToLower(fragment)) {
			return true
		}
	}
	return false
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailureTime = time.Now()
	cb.totalRequests++
	cb.totalFailures++

	cfg := cb.getConfig()
	threshold := DefaultCircuitThreshold
	if cfg != nil && cfg.FailureThreshold > 0 {
		threshold = cfg.FailureThreshold
	}

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= threshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		// The probe failed: back to open, restarting the recovery clock.
		cb.state = CircuitOpen
		cb.halfOpenCount = 0
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.halfOpenCount = 0
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// CircuitBreakerStats holds statistics about a circuit breaker.
type CircuitBreakerStats struct {
	State                CircuitState                `json:"state"`
	ConsecutiveFailures  int                         `json:"consecutive_failures"`
	TotalRequests        int64                       `json:"total_requests"`
	TotalSuccesses       int64                       `json:"total_successes"`
	TotalFailures        int64                       `json:"total_failures"`
	TotalExpectedErrors  int64                       `json:"total_expected_errors"`
	LastFailure          time.Time                   `json:"last_failure,omitempty"`
	LastSuccess          time.Time                   `json:"last_success,omitempty"`
	NextProbeAt          time.Time                   `json:"next_probe_at,omitempty"`
	Config               CircuitBreakerProfileConfig `json:"config"`
}

// Stats returns current statistics for this circuit breaker.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	cfg := cb.Config()
	stats := CircuitBreakerStats{
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		TotalRequests:       cb.totalRequests,
		TotalSuccesses:      cb.totalSuccesses,
		TotalFailures:       cb.totalFailures,
		TotalExpectedErrors: cb.totalExpected,
		LastFailure:         cb.lastFailureTime,
		LastSuccess:         cb.lastSuccessTime,
		Config:              cfg,
	}

	if cb.state == CircuitOpen && !cb.lastFailureTime.IsZero() {
		stats.NextProbeAt = cb.lastFailureTime.Add(cfg.RecoveryTimeout)
	}

	return stats
}
