package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/queue"
	"github.com/transcribebridge/transcribebridge/internal/repository"
)

// TaskHandler handles task registration and inspection endpoints.
type TaskHandler struct {
	tasks    repository.TaskRepository
	segments repository.SegmentRepository
	queue    *queue.Queue
	logger   *slog.Logger
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(tasks repository.TaskRepository, segments repository.SegmentRepository, q *queue.Queue, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:    tasks,
		segments: segments,
		queue:    q,
		logger:   logger,
	}
}

// Register registers the task routes with the API.
func (h *TaskHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createTask",
		Method:        "POST",
		Path:          "/api/v1/tasks",
		Summary:       "Register a transcription task",
		Description:   "Registers a split audio upload: the task, its segments, and their queue jobs. Segment audio must already be present in the blob store.",
		Tags:          []string{"Tasks"},
		DefaultStatus: 201,
	}, h.CreateTask)

	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      "GET",
		Path:        "/api/v1/tasks",
		Summary:     "List tasks",
		Description: "Returns tasks ordered newest-first, without their segments.",
		Tags:        []string{"Tasks"},
	}, h.ListTasks)

	huma.Register(api, huma.Operation{
		OperationID: "getTask",
		Method:      "GET",
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Get a task",
		Description: "Returns a task with its segments",
		Tags:        []string{"Tasks"},
	}, h.GetTask)

	huma.Register(api, huma.Operation{
		OperationID: "getTaskSegments",
		Method:      "GET",
		Path:        "/api/v1/tasks/{id}/segments",
		Summary:     "List a task's segments",
		Description: "Returns the task's segments ordered by start time.",
		Tags:        []string{"Tasks"},
	}, h.GetTaskSegments)

	huma.Register(api, huma.Operation{
		OperationID: "cancelTask",
		Method:      "POST",
		Path:        "/api/v1/tasks/{id}/cancel",
		Summary:     "Cancel a task's queued work",
		Description: "Cancels the task's pending and retrying queue jobs. Segments already with the provider run to completion.",
		Tags:        []string{"Tasks"},
	}, h.CancelTask)

	huma.Register(api, huma.Operation{
		OperationID: "getTaskCounts",
		Method:      "GET",
		Path:        "/api/v1/tasks/counts",
		Summary:     "Count tasks by status",
		Tags:        []string{"Tasks"},
	}, h.GetTaskCounts)
}

// SegmentSpec describes one segment of a new task.
type SegmentSpec struct {
	BlobPath     string  `json:"blob_path" required:"true"`
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
}

// CreateTaskInput is the input for registering a task.
type CreateTaskInput struct {
	Body struct {
		ClientCallbackURL string        `json:"client_callback_url" required:"true"`
		OriginalFilename  string        `json:"original_filename" required:"true"`
		Segments          []SegmentSpec `json:"segments" required:"true" minItems:"1"`
	}
}

// CreateTaskOutput is the output for registering a task.
type CreateTaskOutput struct {
	Body TaskSummary
}

// CreateTask registers a task and enqueues its segments.
func (h *TaskHandler) CreateTask(ctx context.Context, input *CreateTaskInput) (*CreateTaskOutput, error) {
	task := &models.Task{
		ClientCallbackURL: input.Body.ClientCallbackURL,
		OriginalFilename:  input.Body.OriginalFilename,
		Status:            models.TaskStatusProcessing,
		TotalSegments:     len(input.Body.Segments),
	}
	if err := task.Validate(); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	if err := h.tasks.Create(ctx, task); err != nil {
		h.logger.Error("creating task failed", slog.String("error", err.Error()))
		return nil, toHumaError(models.NewDatabaseError("creating task", err))
	}

	segments := make([]*models.Segment, 0, len(input.Body.Segments))
	for i, spec := range input.Body.Segments {
		segment := &models.Segment{
			TaskID:       task.ID,
			BlobPath:     spec.BlobPath,
			StartSeconds: spec.StartSeconds,
			EndSeconds:   spec.EndSeconds,
			Status:       models.SegmentStatusPending,
		}
		if err := segment.Validate(); err != nil {
			return nil, huma.Error400BadRequest(fmt.Sprintf("segment %d: %s", i, err))
		}
		segments = append(segments, segment)
	}

	if err := h.segments.CreateBatch(ctx, segments); err != nil {
		h.logger.Error("creating segments failed",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil, toHumaError(models.NewDatabaseError("creating segments", err))
	}

	if err := h.queue.EnqueueSegments(ctx, segments, task.ID); err != nil {
		// Jobs are recoverable: reconciliation re-adopts pending segments.
		h.logger.Warn("enqueueing segments failed, reconciliation will retry",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	h.logger.Info("task registered",
		slog.String("task_id", task.ID.String()),
		slog.Int("segments", len(segments)),
	)

	return &CreateTaskOutput{Body: taskSummary(task, segments)}, nil
}

// GetTaskInput is the input for fetching a task.
type GetTaskInput struct {
	ID string `path:"id" required:"true"`
}

// GetTaskOutput is the output for fetching a task.
type GetTaskOutput struct {
	Body TaskSummary
}

// GetTask returns a task with its segments.
func (h *TaskHandler) GetTask(ctx context.Context, input *GetTaskInput) (*GetTaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id")
	}

	task, err := h.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, toHumaError(models.NewDatabaseError("loading task", err))
	}
	if task == nil {
		return nil, huma.Error404NotFound("task not found")
	}

	segments, err := h.segments.GetByTaskID(ctx, id)
	if err != nil {
		return nil, toHumaError(models.NewDatabaseError("loading segments", err))
	}

	return &GetTaskOutput{Body: taskSummary(task, segments)}, nil
}

// ListTasksInput is the input for listing tasks.
type ListTasksInput struct {
	Limit  int `query:"limit" minimum:"0" default:"50"`
	Offset int `query:"offset" minimum:"0"`
}

// ListTasksOutput is the output for listing tasks.
type ListTasksOutput struct {
	Body struct {
		Tasks []TaskSummary `json:"tasks"`
	}
}

// ListTasks returns tasks ordered newest-first.
func (h *TaskHandler) ListTasks(ctx context.Context, input *ListTasksInput) (*ListTasksOutput, error) {
	tasks, err := h.tasks.List(ctx, input.Limit, input.Offset)
	if err != nil {
		return nil, toHumaError(models.NewDatabaseError("listing tasks", err))
	}

	resp := &ListTasksOutput{}
	resp.Body.Tasks = make([]TaskSummary, 0, len(tasks))
	for _, task := range tasks {
		resp.Body.Tasks = append(resp.Body.Tasks, taskSummary(task, nil))
	}
	return resp, nil
}

// GetTaskSegmentsInput is the input for listing a task's segments.
type GetTaskSegmentsInput struct {
	ID string `path:"id" required:"true"`
}

// GetTaskSegmentsOutput is the output for listing a task's segments.
type GetTaskSegmentsOutput struct {
	Body struct {
		TaskID   string           `json:"task_id"`
		Segments []SegmentSummary `json:"segments"`
	}
}

// GetTaskSegments returns a task's segments ordered by start time.
func (h *TaskHandler) GetTaskSegments(ctx context.Context, input *GetTaskSegmentsInput) (*GetTaskSegmentsOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id")
	}

	task, err := h.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, toHumaError(models.NewDatabaseError("loading task", err))
	}
	if task == nil {
		return nil, huma.Error404NotFound("task not found")
	}

	segments, err := h.segments.GetByTaskID(ctx, id)
	if err != nil {
		return nil, toHumaError(models.NewDatabaseError("loading segments", err))
	}

	resp := &GetTaskSegmentsOutput{}
	resp.Body.TaskID = id.String()
	resp.Body.Segments = make([]SegmentSummary, 0, len(segments))
	for _, segment := range segments {
		resp.Body.Segments = append(resp.Body.Segments, segmentSummary(segment))
	}
	return resp, nil
}

// CancelTaskInput is the input for cancelling a task's queued work.
type CancelTaskInput struct {
	ID string `path:"id" required:"true"`
}

// CancelTaskOutput is the output for cancelling a task's queued work.
type CancelTaskOutput struct {
	Body struct {
		TaskID        string `json:"task_id"`
		CancelledJobs int    `json:"cancelled_jobs"`
	}
}

// CancelTask cancels a task's pending and retrying jobs.
func (h *TaskHandler) CancelTask(ctx context.Context, input *CancelTaskInput) (*CancelTaskOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid task id")
	}

	task, err := h.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, toHumaError(models.NewDatabaseError("loading task", err))
	}
	if task == nil {
		return nil, huma.Error404NotFound("task not found")
	}

	resp := &CancelTaskOutput{}
	resp.Body.TaskID = id.String()
	resp.Body.CancelledJobs = h.queue.CancelTaskJobs(id)
	return resp, nil
}

// GetTaskCountsInput is the input for the task counts endpoint.
type GetTaskCountsInput struct{}

// GetTaskCountsOutput is the output for the task counts endpoint.
type GetTaskCountsOutput struct {
	Body struct {
		Counts map[string]int64 `json:"counts"`
	}
}

// GetTaskCounts returns task counts grouped by status.
func (h *TaskHandler) GetTaskCounts(ctx context.Context, input *GetTaskCountsInput) (*GetTaskCountsOutput, error) {
	counts, err := h.tasks.CountByStatus(ctx)
	if err != nil {
		return nil, toHumaError(models.NewDatabaseError("counting tasks", err))
	}

	resp := &GetTaskCountsOutput{}
	resp.Body.Counts = make(map[string]int64, len(counts))
	for status, count := range counts {
		resp.Body.Counts[string(status)] = count
	}
	return resp, nil
}
