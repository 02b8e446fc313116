package httpclient

import (
	"time"
)

// CircuitBreakerProfileConfig holds settings for a circuit breaker profile.
// These settings can be updated at runtime and are shared via pointer.
type CircuitBreakerProfileConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// RecoveryTimeout is how long the circuit stays open before allowing
	// a half-open probe.
	RecoveryTimeout time.Duration `json:"recovery_timeout" yaml:"recovery_timeout"`

	// HalfOpenMax is the max probes allowed in half-open state before the
	// circuit decides whether to close or re-open.
	HalfOpenMax int `json:"half_open_max" yaml:"half_open_max"`

	// ExpectedErrors lists error-message substrings that do not count
	// toward the failure threshold. Matching errors still propagate to the
	// caller; they just never trip the breaker. Typical entries are caller
	// mistakes the dependency reports reliably, e.g. "invalid_api_key".
	ExpectedErrors []string `json:"expected_errors,omitempty" yaml:"expected_errors,omitempty"`
}

// DefaultProfileConfig returns a CircuitBreakerProfileConfig with sensible defaults.
func DefaultProfileConfig() CircuitBreakerProfileConfig {
	return CircuitBreakerProfileConfig{
		FailureThreshold: DefaultCircuitThreshold,
		RecoveryTimeout:  DefaultCircuitTimeout,
		HalfOpenMax:      DefaultCircuitHalfOpenMax,
	}
}

// Clone returns a deep copy of the profile config.
func (c *CircuitBreakerProfileConfig) Clone() *CircuitBreakerProfileConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.ExpectedErrors != nil {
		clone.ExpectedErrors = append([]string(nil), c.ExpectedErrors...)
	}
	return &clone
}

// MergeWith returns a new config with values from other overriding zero values in c.
// This allows sparse profile configs to inherit from global.
func (c *CircuitBreakerProfileConfig) MergeWith(other *CircuitBreakerProfileConfig) *CircuitBreakerProfileConfig {
	if other == nil {
		return c.Clone()
	}
	if c == nil {
		return other.Clone()
	}

	result := c.Clone()

	if other.FailureThreshold > 0 {
		result.FailureThreshold = other.FailureThreshold
	}
	if other.RecoveryTimeout > 0 {
		result.RecoveryTimeout = other.RecoveryTimeout
	}
	if other.HalfOpenMax > 0 {
		result.HalfOpenMax = other.HalfOpenMax
	}
	if other.ExpectedErrors != nil {
		result.ExpectedErrors = append([]string(nil), other.ExpectedErrors...)
	}

	return result
}

// CircuitBreakerConfig holds global and per-dependency circuit breaker
// configurations. This is the top-level config that can be loaded from YAML
// or updated via the admin API.
type CircuitBreakerConfig struct {
	// Global is the default profile applied to all circuit breakers.
	Global CircuitBreakerProfileConfig `json:"global" yaml:"global"`

	// Profiles contains dependency-specific overrides keyed by name.
	// Values are merged with Global - only non-zero fields override.
	Profiles map[string]CircuitBreakerProfileConfig `json:"profiles,omitempty" yaml:"profiles,omitempty"`
}

// DefaultCircuitBreakerConfig returns a config with sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Global:   DefaultProfileConfig(),
		Profiles: map[string]CircuitBreakerProfileConfig{},
	}
}

// GetProfileFor returns the merged config for a dependency.
// If a dependency-specific profile exists, it's merged with global.
// Otherwise, returns the global config.
func (c *CircuitBreakerConfig) GetProfileFor(name string) *CircuitBreakerProfileConfig {
	if profile, ok := c.Profiles[name]; ok {
		return c.Global.MergeWith(&profile)
	}
	return c.Global.Clone()
}

// Clone returns a deep copy of the config.
func (c *CircuitBreakerConfig) Clone() *CircuitBreakerConfig {
	if c == nil {
		return nil
	}
	clone := &CircuitBreakerConfig{
		Global:   *c.Global.Clone(),
		Profiles: make(map[string]CircuitBreakerProfileConfig, len(c.Profiles)),
	}
	for name, profile := range c.Profiles {
		clone.Profiles[name] = *profile.Clone()
	}
	return clone
}
