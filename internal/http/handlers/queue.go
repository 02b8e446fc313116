package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/transcribebridge/transcribebridge/internal/queue"
)

// QueueHandler exposes the segment queue: the pump endpoint for external
// triggers (cron, serverless schedulers), stats, and runtime tuning.
type QueueHandler struct {
	queue *queue.Queue
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(q *queue.Queue) *QueueHandler {
	return &QueueHandler{queue: q}
}

// Register registers the queue routes with the API.
func (h *QueueHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "pumpQueue",
		Method:      "POST",
		Path:        "/api/v1/queue/pump",
		Summary:     "Pump the segment queue",
		Description: "Reconciles the queue against the store and dispatches due jobs, waiting for the batch to finish. max_jobs of 0 dispatches as many as the concurrency cap allows.",
		Tags:        []string{"Queue"},
	}, h.PumpQueue)

	huma.Register(api, huma.Operation{
		OperationID: "pumpQueueGet",
		Method:      "GET",
		Path:        "/api/v1/queue/pump",
		Summary:     "Pump the segment queue",
		Description: "GET variant of the pump for schedulers that can only issue GETs.",
		Tags:        []string{"Queue"},
	}, h.PumpQueueGet)

	huma.Register(api, huma.Operation{
		OperationID: "getQueueStats",
		Method:      "GET",
		Path:        "/api/v1/queue/stats",
		Summary:     "Get queue statistics",
		Tags:        []string{"Queue"},
	}, h.GetStats)

	huma.Register(api, huma.Operation{
		OperationID: "updateQueueConfig",
		Method:      "PUT",
		Path:        "/api/v1/queue/config",
		Summary:     "Update queue tuning",
		Description: "Applies non-zero overrides to the queue's concurrency and retry tuning at runtime.",
		Tags:        []string{"Queue"},
	}, h.UpdateConfig)
}

// PumpQueueInput is the input for the pump endpoint.
type PumpQueueInput struct {
	Body struct {
		MaxJobs int `json:"max_jobs,omitempty" minimum:"0"`
	}
}

// PumpQueueOutput is the output for the pump endpoint.
type PumpQueueOutput struct {
	Body queue.PumpResult
}

// PumpQueue runs one pump pass.
func (h *QueueHandler) PumpQueue(ctx context.Context, input *PumpQueueInput) (*PumpQueueOutput, error) {
	result, err := h.queue.ForceProcess(ctx, input.Body.MaxJobs)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &PumpQueueOutput{Body: result}, nil
}

// PumpQueueGetInput is the input for the GET pump variant.
type PumpQueueGetInput struct {
	MaxJobs int `query:"max_jobs" minimum:"0"`
}

// PumpQueueGet runs one pump pass, parameterized by query string.
func (h *QueueHandler) PumpQueueGet(ctx context.Context, input *PumpQueueGetInput) (*PumpQueueOutput, error) {
	result, err := h.queue.ForceProcess(ctx, input.MaxJobs)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &PumpQueueOutput{Body: result}, nil
}

// GetQueueStatsInput is the input for the stats endpoint.
type GetQueueStatsInput struct{}

// GetQueueStatsOutput is the output for the stats endpoint.
type GetQueueStatsOutput struct {
	Body queue.Stats
}

// GetStats returns a snapshot of the queue.
func (h *QueueHandler) GetStats(ctx context.Context, input *GetQueueStatsInput) (*GetQueueStatsOutput, error) {
	return &GetQueueStatsOutput{Body: h.queue.Stats()}, nil
}

// UpdateQueueConfigInput is the input for the queue tuning endpoint.
type UpdateQueueConfigInput struct {
	Body struct {
		MaxConcurrent     int     `json:"max_concurrent,omitempty" minimum:"0"`
		MaxAttempts       int     `json:"max_attempts,omitempty" minimum:"0"`
		BaseDelayMs       int     `json:"base_delay_ms,omitempty" minimum:"0"`
		BackoffMultiplier float64 `json:"backoff_multiplier,omitempty" minimum:"0"`
		MaxDelayMs        int     `json:"max_delay_ms,omitempty" minimum:"0"`
	}
}

// UpdateQueueConfigOutput is the output for the queue tuning endpoint.
type UpdateQueueConfigOutput struct {
	Body queue.Stats
}

// UpdateConfig applies runtime tuning overrides and returns the resulting
// queue state.
func (h *QueueHandler) UpdateConfig(ctx context.Context, input *UpdateQueueConfigInput) (*UpdateQueueConfigOutput, error) {
	h.queue.Configure(queue.Config{
		MaxConcurrent:     input.Body.MaxConcurrent,
		MaxAttempts:       input.Body.MaxAttempts,
		BaseDelay:         time.Duration(input.Body.BaseDelayMs) * time.Millisecond,
		BackoffMultiplier: input.Body.BackoffMultiplier,
		MaxDelay:          time.Duration(input.Body.MaxDelayMs) * time.Millisecond,
	})
	return &UpdateQueueConfigOutput{Body: h.queue.Stats()}, nil
}
