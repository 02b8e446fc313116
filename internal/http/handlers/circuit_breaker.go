package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/transcribebridge/transcribebridge/pkg/httpclient"
)

// CircuitBreakerHandler handles circuit breaker API endpoints.
type CircuitBreakerHandler struct {
	manager *httpclient.CircuitBreakerManager
}

// NewCircuitBreakerHandler creates a new circuit breaker handler.
func NewCircuitBreakerHandler(manager *httpclient.CircuitBreakerManager) *CircuitBreakerHandler {
	return &CircuitBreakerHandler{manager: manager}
}

// Register registers the circuit breaker routes with the API.
func (h *CircuitBreakerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listCircuitBreakers",
		Method:      "GET",
		Path:        "/api/v1/circuit-breakers",
		Summary:     "List circuit breakers",
		Description: "Returns the current state and counters of every named circuit breaker",
		Tags:        []string{"Circuit Breakers"},
	}, h.ListCircuitBreakers)

	huma.Register(api, huma.Operation{
		OperationID: "getCircuitBreakerConfig",
		Method:      "GET",
		Path:        "/api/v1/circuit-breakers/config",
		Summary:     "Get circuit breaker configuration",
		Description: "Returns circuit breaker configuration and current status",
		Tags:        []string{"Circuit Breakers"},
	}, h.GetConfig)

	huma.Register(api, huma.Operation{
		OperationID: "updateCircuitBreakerConfig",
		Method:      "PUT",
		Path:        "/api/v1/circuit-breakers/config",
		Summary:     "Update circuit breaker configuration",
		Description: "Updates per-dependency circuit breaker profiles at runtime, preserving breaker state",
		Tags:        []string{"Circuit Breakers"},
	}, h.UpdateConfig)

	huma.Register(api, huma.Operation{
		OperationID: "resetCircuitBreaker",
		Method:      "POST",
		Path:        "/api/v1/circuit-breakers/{name}/reset",
		Summary:     "Reset a circuit breaker",
		Description: "Resets a specific circuit breaker to closed state",
		Tags:        []string{"Circuit Breakers"},
	}, h.ResetCircuitBreaker)

	huma.Register(api, huma.Operation{
		OperationID: "resetAllCircuitBreakers",
		Method:      "POST",
		Path:        "/api/v1/circuit-breakers/reset",
		Summary:     "Reset all circuit breakers",
		Description: "Resets all circuit breakers to closed state",
		Tags:        []string{"Circuit Breakers"},
	}, h.ResetAllCircuitBreakers)
}

// CircuitBreakerProfile represents a circuit breaker configuration profile.
type CircuitBreakerProfile struct {
	FailureThreshold int      `json:"failure_threshold"`
	RecoveryTimeout  string   `json:"recovery_timeout"`
	HalfOpenMax      int      `json:"half_open_max"`
	ExpectedErrors   []string `json:"expected_errors,omitempty"`
}

// CircuitBreakerConfigData represents the circuit breaker configuration.
type CircuitBreakerConfigData struct {
	Global   CircuitBreakerProfile            `json:"global"`
	Profiles map[string]CircuitBreakerProfile `json:"profiles"`
}

// CircuitBreakerStatusData represents the current status of a circuit breaker.
type CircuitBreakerStatusData struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	TotalRequests       int64     `json:"total_requests"`
	TotalSuccesses      int64     `json:"total_successes"`
	TotalFailures       int64     `json:"total_failures"`
	TotalExpectedErrors int64     `json:"total_expected_errors"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	NextProbeAt         time.Time `json:"next_probe_at,omitempty"`
}

// profileFromConfig converts internal config to API profile.
func profileFromConfig(cfg httpclient.CircuitBreakerProfileConfig) CircuitBreakerProfile {
	return CircuitBreakerProfile{
		FailureThreshold: cfg.FailureThreshold,
		RecoveryTimeout:  cfg.RecoveryTimeout.String(),
		HalfOpenMax:      cfg.HalfOpenMax,
		ExpectedErrors:   cfg.ExpectedErrors,
	}
}

// configFromProfile converts API profile to internal config.
func configFromProfile(p CircuitBreakerProfile) (httpclient.CircuitBreakerProfileConfig, error) {
	cfg := httpclient.CircuitBreakerProfileConfig{
		FailureThreshold: p.FailureThreshold,
		HalfOpenMax:      p.HalfOpenMax,
		ExpectedErrors:   p.ExpectedErrors,
	}

	if p.RecoveryTimeout != "" {
		d, err := time.ParseDuration(p.RecoveryTimeout)
		if err != nil {
			return cfg, huma.Error400BadRequest("invalid recovery_timeout format: " + err.Error())
		}
		cfg.RecoveryTimeout = d
	}

	return cfg, nil
}

// ListCircuitBreakersInput is the input for listing circuit breakers.
type ListCircuitBreakersInput struct{}

// ListCircuitBreakersOutput is the output for listing circuit breakers.
type ListCircuitBreakersOutput struct {
	Body struct {
		Breakers []CircuitBreakerStatusData `json:"breakers"`
	}
}

// ListCircuitBreakers returns the status of every named breaker.
func (h *CircuitBreakerHandler) ListCircuitBreakers(ctx context.Context, input *ListCircuitBreakersInput) (*ListCircuitBreakersOutput, error) {
	resp := &ListCircuitBreakersOutput{}
	resp.Body.Breakers = statusesFromStats(h.manager.GetAllStats())
	return resp, nil
}

// statusesFromStats flattens the manager's stats map into API statuses.
func statusesFromStats(allStats map[string]httpclient.CircuitBreakerStats) []CircuitBreakerStatusData {
	statuses := make([]CircuitBreakerStatusData, 0, len(allStats))
	for name, stats := range allStats {
		statuses = append(statuses, CircuitBreakerStatusData{
			Name:                name,
			State:               stats.State.String(),
			ConsecutiveFailures: stats.ConsecutiveFailures,
			TotalRequests:       stats.TotalRequests,
			TotalSuccesses:      stats.TotalSuccesses,
			TotalFailures:       stats.TotalFailures,
			TotalExpectedErrors: stats.TotalExpectedErrors,
			LastFailure:         stats.LastFailure,
			LastSuccess:         stats.LastSuccess,
			NextProbeAt:         stats.NextProbeAt,
		})
	}
	return statuses
}

// GetCircuitBreakerConfigInput is the input for getting circuit breaker config.
type GetCircuitBreakerConfigInput struct{}

// GetCircuitBreakerConfigOutput is the output for getting circuit breaker config.
type GetCircuitBreakerConfigOutput struct {
	Body struct {
		Config   CircuitBreakerConfigData   `json:"config"`
		Statuses []CircuitBreakerStatusData `json:"statuses"`
	}
}

// GetConfig returns circuit breaker configuration and status.
func (h *CircuitBreakerHandler) GetConfig(ctx context.Context, input *GetCircuitBreakerConfigInput) (*GetCircuitBreakerConfigOutput, error) {
	cfg := h.manager.GetConfig()

	configData := CircuitBreakerConfigData{
		Global:   profileFromConfig(cfg.Global),
		Profiles: make(map[string]CircuitBreakerProfile),
	}
	for name, profile := range cfg.Profiles {
		configData.Profiles[name] = profileFromConfig(profile)
	}

	resp := &GetCircuitBreakerConfigOutput{}
	resp.Body.Config = configData
	resp.Body.Statuses = statusesFromStats(h.manager.GetAllStats())
	return resp, nil
}

// UpdateCircuitBreakerConfigInput is the input for updating circuit breaker config.
type UpdateCircuitBreakerConfigInput struct {
	Body struct {
		Profiles map[string]CircuitBreakerProfile `json:"profiles" required:"true"`
	}
}

// UpdateCircuitBreakerConfigOutput is the output for updating circuit breaker config.
type UpdateCircuitBreakerConfigOutput struct {
	Body struct {
		Message   string `json:"message"`
		Timestamp string `json:"timestamp"`
	}
}

// UpdateConfig updates per-dependency circuit breaker profiles at runtime.
func (h *CircuitBreakerHandler) UpdateConfig(ctx context.Context, input *UpdateCircuitBreakerConfigInput) (*UpdateCircuitBreakerConfigOutput, error) {
	for name, profile := range input.Body.Profiles {
		cfg, err := configFromProfile(profile)
		if err != nil {
			return nil, err
		}
		h.manager.UpdateServiceConfig(name, cfg)
	}

	resp := &UpdateCircuitBreakerConfigOutput{}
	resp.Body.Message = "circuit breaker configuration updated"
	resp.Body.Timestamp = time.Now().UTC().Format(time.RFC3339)
	return resp, nil
}

// ResetCircuitBreakerInput is the input for resetting a circuit breaker.
type ResetCircuitBreakerInput struct {
	Name string `path:"name" required:"true"`
}

// ResetCircuitBreakerOutput is the output for resetting a circuit breaker.
type ResetCircuitBreakerOutput struct {
	Body struct {
		Name     string `json:"name"`
		NewState string `json:"new_state"`
	}
}

// ResetCircuitBreaker resets a specific circuit breaker.
func (h *CircuitBreakerHandler) ResetCircuitBreaker(ctx context.Context, input *ResetCircuitBreakerInput) (*ResetCircuitBreakerOutput, error) {
	if !h.manager.ResetBreaker(input.Name) {
		return nil, huma.Error404NotFound("circuit breaker not found: " + input.Name)
	}

	newState := "closed"
	if breaker := h.manager.Get(input.Name); breaker != nil {
		newState = breaker.State().String()
	}

	resp := &ResetCircuitBreakerOutput{}
	resp.Body.Name = input.Name
	resp.Body.NewState = newState
	return resp, nil
}

// ResetAllCircuitBreakersInput is the input for resetting all circuit breakers.
type ResetAllCircuitBreakersInput struct{}

// ResetAllCircuitBreakersOutput is the output for resetting all circuit breakers.
type ResetAllCircuitBreakersOutput struct {
	Body struct {
		Count int `json:"count"`
	}
}

// ResetAllCircuitBreakers resets every active circuit breaker.
func (h *CircuitBreakerHandler) ResetAllCircuitBreakers(ctx context.Context, input *ResetAllCircuitBreakersInput) (*ResetAllCircuitBreakersOutput, error) {
	resp := &ResetAllCircuitBreakersOutput{}
	resp.Body.Count = h.manager.ResetAll()
	return resp, nil
}
