// Package coordinator decides when a task is finished. It is invoked after
// every terminal segment event, recounts the task's segments from the store,
// and performs the terminal transition exactly once, however many callers
// race on it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/transcribebridge/transcribebridge/internal/assembler"
	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/repository"
)

// ResultDeliverer posts a terminal task's result to the client.
// Satisfied by *delivery.Deliverer.
type ResultDeliverer interface {
	Deliver(ctx context.Context, task *models.Task, result *assembler.Result) error
}

// Coordinator finalizes tasks whose segments have all settled.
type Coordinator struct {
	tasks     repository.TaskRepository
	segments  repository.SegmentRepository
	assembler *assembler.Assembler
	deliverer ResultDeliverer
	// strict fails the whole task on any failed segment; lenient assembles
	// whatever completed.
	strict bool
	logger *slog.Logger
}

// New creates a coordinator.
func New(tasks repository.TaskRepository, segments repository.SegmentRepository, asm *assembler.Assembler, deliverer ResultDeliverer, strict bool, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		tasks:     tasks,
		segments:  segments,
		assembler: asm,
		deliverer: deliverer,
		strict:    strict,
		logger:    logger,
	}
}

// CheckTaskCompletion recounts a task's segments and, when all have settled,
// moves the task to its terminal status and delivers the result. Safe to
// call any number of times from any number of goroutines: the terminal
// transition is a compare-and-swap and only the winner delivers.
func (c *Coordinator) CheckTaskCompletion(ctx context.Context, taskID models.ULID) error {
	task, err := c.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("loading task %s: %w", taskID, err)
	}
	if task == nil {
		return models.NewNotFoundError(fmt.Sprintf("task %s not found", taskID), nil)
	}
	if task.IsTerminal() {
		return nil
	}

	segments, err := c.segments.GetByTaskID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("loading segments for task %s: %w", taskID, err)
	}

	completed := 0
	failed := 0
	for _, segment := range segments {
		switch segment.Status {
		case models.SegmentStatusCompleted:
			completed++
		case models.SegmentStatusFailed:
			failed++
		}
	}

	// Keep the progress counter honest even before the task settles.
	if err := c.tasks.SetCompletedSegments(ctx, taskID, completed); err != nil {
		return fmt.Errorf("updating progress for task %s: %w", taskID, err)
	}

	if completed+failed < task.TotalSegments {
		c.logger.Debug("task still in flight",
			slog.String("task_id", taskID.String()),
			slog.Int("completed", completed),
			slog.Int("failed", failed),
			slog.Int("total", task.TotalSegments),
		)
		return nil
	}

	if failed > 0 && c.strict {
		return c.finalizeFailed(ctx, task, failed)
	}
	return c.finalizeCompleted(ctx, task, segments, failed)
}

// finalizeCompleted assembles the transcript and completes the task. In
// lenient mode a task where nothing transcribed still fails.
func (c *Coordinator) finalizeCompleted(ctx context.Context, task *models.Task, segments []*models.Segment, failed int) error {
	result, err := c.assembler.Assemble(segments)
	if err != nil {
		if errors.Is(err, assembler.ErrEmptyTranscript) {
			return c.finalizeFailed(ctx, task, failed)
		}
		return fmt.Errorf("assembling transcript for task %s: %w", task.ID, err)
	}

	completedAt := models.Now()
	won, err := c.tasks.UpdateStatusCAS(ctx, task.ID, models.TaskStatusProcessing, models.TaskStatusCompleted, map[string]any{
		"final_transcript": result.Transcript,
		"completed_at":     completedAt,
	})
	if err != nil {
		return fmt.Errorf("completing task %s: %w", task.ID, err)
	}
	if !won {
		// Another caller finalized first; it owns the delivery.
		return nil
	}

	task.Status = models.TaskStatusCompleted
	task.FinalTranscript = result.Transcript
	task.CompletedAt = &completedAt

	c.logger.Info("task completed",
		slog.String("task_id", task.ID.String()),
		slog.Int("segments", result.Metadata.SegmentCount),
		slog.Int("skipped_failed", failed),
		slog.Int("warnings", len(result.Warnings)),
	)
	return c.deliverer.Deliver(ctx, task, result)
}

// finalizeFailed fails the task and delivers the failure notification.
func (c *Coordinator) finalizeFailed(ctx context.Context, task *models.Task, failed int) error {
	message := fmt.Sprintf("%d segments failed to process", failed)
	completedAt := models.Now()

	won, err := c.tasks.UpdateStatusCAS(ctx, task.ID, models.TaskStatusProcessing, models.TaskStatusFailed, map[string]any{
		"error_message": message,
		"completed_at":  completedAt,
	})
	if err != nil {
		return fmt.Errorf("failing task %s: %w", task.ID, err)
	}
	if !won {
		return nil
	}

	task.Status = models.TaskStatusFailed
	task.ErrorMessage = message
	task.CompletedAt = &completedAt

	c.logger.Warn("task failed",
		slog.String("task_id", task.ID.String()),
		slog.Int("failed_segments", failed),
	)
	return c.deliverer.Deliver(ctx, task, nil)
}
