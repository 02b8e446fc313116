package httpclient

import (
	"log/slog"
	"sync"
)

// CircuitBreakerManager manages circuit breakers with support for runtime
// configuration updates. It provides:
//   - Shared circuit breakers by name (same name = same breaker instance)
//   - Global config with per-dependency profile overrides
//   - Runtime config updates that preserve circuit breaker state
//
// The manager is plain application state: construct one at startup and pass
// it to the components that need it.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker              // Shared breakers by dependency name
	configs  map[string]*CircuitBreakerProfileConfig // Per-dependency config pointers
	config   *CircuitBreakerConfig                   // Full config with global + profiles
	logger   *slog.Logger
}

// NewCircuitBreakerManager creates a new manager with the given initial configuration.
func NewCircuitBreakerManager(cfg *CircuitBreakerConfig) *CircuitBreakerManager {
	if cfg == nil {
		defaultCfg := DefaultCircuitBreakerConfig()
		cfg = &defaultCfg
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]CircuitBreakerProfileConfig)
	}

	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		configs:  make(map[string]*CircuitBreakerProfileConfig),
		config:   cfg,
		logger:   slog.Default(),
	}
}

// WithLogger sets the logger for the manager.
func (m *CircuitBreakerManager) WithLogger(logger *slog.Logger) *CircuitBreakerManager {
	m.logger = logger
	return m
}

// GetOrCreate returns an existing circuit breaker for the dependency name,
// or creates a new one with the appropriate config (merged from global +
// dependency profile). Multiple calls with the same name return the same
// breaker instance.
func (m *CircuitBreakerManager) GetOrCreate(name string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if breaker, ok := m.breakers[name]; ok {
		return breaker
	}

	cfg := m.getOrCreateConfigLocked(name)
	breaker := NewCircuitBreakerWithConfig(cfg)
	m.breakers[name] = breaker

	m.logger.Debug("created circuit breaker",
		slog.String("dependency", name),
		slog.Int("failure_threshold", cfg.FailureThreshold),
		slog.Duration("recovery_timeout", cfg.RecoveryTimeout),
	)

	return breaker
}

// getOrCreateConfigLocked returns the config for a dependency, creating it if
// needed. Caller must hold m.mu.
func (m *CircuitBreakerManager) getOrCreateConfigLocked(name string) *CircuitBreakerProfileConfig {
	if cfg, ok := m.configs[name]; ok {
		return cfg
	}

	cfg := m.config.GetProfileFor(name)
	m.configs[name] = cfg
	return cfg
}

// Get returns an existing circuit breaker by name, or nil if not found.
func (m *CircuitBreakerManager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

// UpdateServiceConfig sets or updates a dependency-specific profile.
// If the dependency has an active breaker, it's updated immediately with its
// state preserved.
func (m *CircuitBreakerManager) UpdateServiceConfig(name string, cfg CircuitBreakerProfileConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config.Profiles[name] = cfg

	mergedCfg := m.config.GetProfileFor(name)
	m.configs[name] = mergedCfg

	if breaker, ok := m.breakers[name]; ok {
		breaker.UpdateConfig(mergedCfg)
		m.logger.Debug("updated circuit breaker config",
			slog.String("dependency", name),
			slog.Int("failure_threshold", mergedCfg.FailureThreshold),
			slog.Duration("recovery_timeout", mergedCfg.RecoveryTimeout),
		)
	}
}

// GetConfig returns a copy of the current full configuration, including
// dynamically created per-dependency configs.
func (m *CircuitBreakerManager) GetConfig() CircuitBreakerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := *m.config.Clone()
	if result.Profiles == nil {
		result.Profiles = make(map[string]CircuitBreakerProfileConfig)
	}

	for name, cfg := range m.configs {
		if cfg != nil {
			if _, exists := result.Profiles[name]; !exists {
				result.Profiles[name] = *cfg
			}
		}
	}

	return result
}

// GetServiceConfig returns the effective config for a dependency (merged
// global + profile).
func (m *CircuitBreakerManager) GetServiceConfig(name string) CircuitBreakerProfileConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if cfg, ok := m.configs[name]; ok && cfg != nil {
		return *cfg
	}
	return *m.config.GetProfileFor(name)
}

// Names returns the names of all active circuit breakers.
func (m *CircuitBreakerManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	return names
}

// GetAllStats returns statistics for all active circuit breakers.
func (m *CircuitBreakerManager) GetAllStats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(m.breakers))
	for name, breaker := range m.breakers {
		stats[name] = breaker.Stats()
	}
	return stats
}

// GetStats returns statistics for a specific circuit breaker.
func (m *CircuitBreakerManager) GetStats(name string) (CircuitBreakerStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	breaker, ok := m.breakers[name]
	if !ok {
		return CircuitBreakerStats{}, false
	}
	return breaker.Stats(), true
}

// ResetBreaker resets a specific circuit breaker to closed state.
func (m *CircuitBreakerManager) ResetBreaker(name string) bool {
	m.mu.RLock()
	breaker, ok := m.breakers[name]
	m.mu.RUnlock()

	if !ok {
		return false
	}

	breaker.Reset()
	m.logger.Info("circuit breaker reset", slog.String("dependency", name))
	return true
}

// ResetAll resets all circuit breakers to closed state.
func (m *CircuitBreakerManager) ResetAll() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for name, breaker := range m.breakers {
		breaker.Reset()
		m.logger.Debug("circuit breaker reset", slog.String("dependency", name))
		count++
	}

	m.logger.Info("all circuit breakers reset", slog.Int("count", count))
	return count
}
