package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/service"
)

// CleanupHandler exposes task cleanup: removing a single task or
// sweeping everything past its retention window.
type CleanupHandler struct {
	cleanup *service.CleanupService
	logger  *slog.Logger
}

// NewCleanupHandler creates a new cleanup handler.
func NewCleanupHandler(cleanup *service.CleanupService, logger *slog.Logger) *CleanupHandler {
	return &CleanupHandler{cleanup: cleanup, logger: logger}
}

// Register registers the cleanup routes with the API.
func (h *CleanupHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "cleanupTask",
		Method:      "DELETE",
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Remove a task",
		Description: "Deletes a task, its segments, and its blobs. Tasks still processing are refused unless force is set.",
		Tags:        []string{"Cleanup"},
	}, h.CleanupTask)

	huma.Register(api, huma.Operation{
		OperationID: "runCleanup",
		Method:      "POST",
		Path:        "/api/v1/cleanup",
		Summary:     "Run cleanup",
		Description: "With a task_id, removes that task, its segments, and its blobs. Without one, removes every terminal task older than the retention window.",
		Tags:        []string{"Cleanup"},
	}, h.RunCleanup)
}

// CleanupTaskInput is the input for removing a task.
type CleanupTaskInput struct {
	ID    string `path:"id" required:"true"`
	Force bool   `query:"force" doc:"Remove the task even if it is still processing"`
}

// CleanupTaskOutput is the output for removing a task.
type CleanupTaskOutput struct {
	Body service.TaskCleanupResult
}

// CleanupTask removes one task and everything attached to it.
func (h *CleanupHandler) CleanupTask(ctx context.Context, input *CleanupTaskInput) (*CleanupTaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id")
	}

	result, err := h.cleanup.CleanupTask(ctx, id, input.Force)
	if err != nil {
		return nil, toHumaError(err)
	}
	return &CleanupTaskOutput{Body: *result}, nil
}

// RunCleanupInput is the input for the cleanup endpoint.
type RunCleanupInput struct {
	Body struct {
		TaskID string `json:"task_id,omitempty" doc:"Remove only this task instead of sweeping"`
		Force  bool   `json:"force,omitempty" doc:"Remove the task even if it is still processing"`
	}
}

// RunCleanupOutput is the output for the cleanup endpoint.
type RunCleanupOutput struct {
	Body struct {
		Task  *service.TaskCleanupResult `json:"task,omitempty"`
		Sweep *service.SweepResult       `json:"sweep,omitempty"`
	}
}

// RunCleanup removes one task when a task_id is given, otherwise runs an
// expiry sweep.
func (h *CleanupHandler) RunCleanup(ctx context.Context, input *RunCleanupInput) (*RunCleanupOutput, error) {
	resp := &RunCleanupOutput{}

	if input.Body.TaskID != "" {
		id, err := models.ParseULID(input.Body.TaskID)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid task id")
		}
		result, err := h.cleanup.CleanupTask(ctx, id, input.Body.Force)
		if err != nil {
			return nil, toHumaError(err)
		}
		resp.Body.Task = result
		return resp, nil
	}

	result, err := h.cleanup.CleanupExpired(ctx)
	if err != nil {
		return nil, toHumaError(err)
	}
	resp.Body.Sweep = result
	return resp, nil
}
