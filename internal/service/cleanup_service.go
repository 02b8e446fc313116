// Package service provides high-level operations composed from the
// repositories, the blob store, and the segment queue.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/repository"
	"github.com/transcribebridge/transcribebridge/internal/storage"
)

// QueueJanitor is the slice of the segment queue the cleanup service
// needs: cancelling a task's outstanding jobs and dropping settled job
// bookkeeping. Satisfied by *queue.Queue.
type QueueJanitor interface {
	CancelTaskJobs(taskID models.ULID) int
	CleanupOldJobs(olderThan time.Duration) int
}

// CleanupService removes finished tasks: their blobs, their segment
// rows, and finally the task row itself.
type CleanupService struct {
	tasks     repository.TaskRepository
	segments  repository.SegmentRepository
	blobs     storage.BlobStore
	queue     QueueJanitor
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewCleanupService creates a new CleanupService. retention is how long
// terminal tasks are kept before the expiry sweep removes them.
func NewCleanupService(
	tasks repository.TaskRepository,
	segments repository.SegmentRepository,
	blobs storage.BlobStore,
	queue QueueJanitor,
	retention time.Duration,
) *CleanupService {
	return &CleanupService{
		tasks:     tasks,
		segments:  segments,
		blobs:     blobs,
		queue:     queue,
		retention: retention,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithLogger sets a custom logger.
func (s *CleanupService) WithLogger(logger *slog.Logger) *CleanupService {
	s.logger = logger
	return s
}

// TaskCleanupResult reports what a single-task cleanup removed.
type TaskCleanupResult struct {
	TaskID          string `json:"task_id"`
	SegmentsDeleted int64  `json:"segments_deleted"`
	JobsCancelled   int    `json:"jobs_cancelled"`
}

// SweepResult reports what an expiry sweep removed.
type SweepResult struct {
	TasksDeleted    int   `json:"tasks_deleted"`
	SegmentsDeleted int64 `json:"segments_deleted"`
	JobsDeleted     int   `json:"jobs_deleted"`
}

// CleanupTask removes one task and everything attached to it. A task
// still processing is refused unless force is set; force cancels its
// queued jobs first. Segments already with the provider cannot be
// recalled, so their late callbacks will land on an unknown request ID.
func (s *CleanupService) CleanupTask(ctx context.Context, taskID models.ULID, force bool) (*TaskCleanupResult, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, models.NewDatabaseError("loading task", err)
	}
	if task == nil {
		return nil, models.NewNotFoundError(fmt.Sprintf("task %s not found", taskID), nil)
	}

	result := &TaskCleanupResult{TaskID: taskID.String()}

	if !task.IsTerminal() {
		if !force {
			return nil, models.NewBusinessLogicError(
				fmt.Sprintf("task %s is still %s; use force to remove it anyway", taskID, task.Status), nil)
		}
		result.JobsCancelled = s.queue.CancelTaskJobs(taskID)
	}

	if err := s.blobs.RemoveTask(taskID); err != nil {
		return nil, models.NewSystemError("removing task blobs", err)
	}

	deleted, err := s.segments.DeleteByTaskID(ctx, taskID)
	if err != nil {
		return nil, models.NewDatabaseError("deleting segments", err)
	}
	result.SegmentsDeleted = deleted

	if err := s.tasks.Delete(ctx, taskID); err != nil {
		return nil, models.NewDatabaseError("deleting task", err)
	}

	s.logger.Info("task cleaned up",
		slog.String("task_id", taskID.String()),
		slog.Int64("segments_deleted", deleted),
		slog.Int("jobs_cancelled", result.JobsCancelled),
		slog.Bool("forced", force),
	)
	return result, nil
}

// CleanupExpired removes every terminal task older than the retention
// window, plus the queue's settled job records. Failures on individual
// tasks are logged and skipped so one bad task does not stall the sweep.
func (s *CleanupService) CleanupExpired(ctx context.Context) (*SweepResult, error) {
	cutoff := s.now().Add(-s.retention)
	expired, err := s.tasks.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		return nil, models.NewDatabaseError("listing expired tasks", err)
	}

	result := &SweepResult{}
	for _, task := range expired {
		taskResult, err := s.CleanupTask(ctx, task.ID, false)
		if err != nil {
			s.logger.Error("expiry sweep skipping task",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.TasksDeleted++
		result.SegmentsDeleted += taskResult.SegmentsDeleted
	}

	result.JobsDeleted = s.queue.CleanupOldJobs(s.retention)

	s.logger.Info("expiry sweep finished",
		slog.Time("cutoff", cutoff),
		slog.Int("tasks_deleted", result.TasksDeleted),
		slog.Int64("segments_deleted", result.SegmentsDeleted),
		slog.Int("jobs_deleted", result.JobsDeleted),
	)
	return result, nil
}
