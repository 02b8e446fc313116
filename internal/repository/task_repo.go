package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/transcribebridge/transcribebridge/internal/models"
)

// taskRepo implements TaskRepository using GORM.
type taskRepo struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *gorm.DB) *taskRepo {
	return &taskRepo{db: db}
}

// Create creates a new task.
func (r *taskRepo) Create(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// GetByID retrieves a task by ID.
func (r *taskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting task by ID: %w", err)
	}
	return &task, nil
}

// Update updates an existing task.
func (r *taskRepo) Update(ctx context.Context, task *models.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return nil
}

// UpdateStatusCAS transitions a task out of `from` exactly once. The WHERE
// clause carries the expected status, so concurrent finalizers race on
// RowsAffected rather than overwriting each other's terminal state.
func (r *taskRepo) UpdateStatusCAS(ctx context.Context, id models.ULID, from, to models.TaskStatus, patch map[string]any) (bool, error) {
	columns := map[string]any{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range patch {
		columns[k] = v
	}

	// UpdateColumns skips hooks; the patch is already validated by the caller.
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumns(columns)

	if result.Error != nil {
		return false, fmt.Errorf("transitioning task status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IncrementCompletedSegments atomically bumps the completed segment counter.
func (r *taskRepo) IncrementCompletedSegments(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		UpdateColumn("completed_segments", gorm.Expr("completed_segments + 1"))

	if result.Error != nil {
		return fmt.Errorf("incrementing completed segments: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("incrementing completed segments: task %s not found", id)
	}
	return nil
}

// SetCompletedSegments overwrites the completed segment counter.
func (r *taskRepo) SetCompletedSegments(ctx context.Context, id models.ULID, count int) error {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		UpdateColumn("completed_segments", count)

	if result.Error != nil {
		return fmt.Errorf("setting completed segments: %w", result.Error)
	}
	return nil
}

// RecordDeliveryOutcome persists webhook delivery bookkeeping. Only the
// delivery columns are touched; in particular error_message stays owned by
// the processing pipeline.
func (r *taskRepo) RecordDeliveryOutcome(ctx context.Context, id models.ULID, status models.DeliveryStatus, attempts int, deliveryError string) error {
	result := r.db.WithContext(ctx).Model(&models.Task{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"delivery_status":   status,
			"delivery_attempts": attempts,
			"delivery_error":    deliveryError,
			"updated_at":        time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("recording delivery outcome: %w", result.Error)
	}
	return nil
}

// CountByStatus returns the number of tasks per status.
func (r *taskRepo) CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	var rows []struct {
		Status models.TaskStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Task{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting tasks by status: %w", err)
	}

	counts := make(map[models.TaskStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// List retrieves tasks ordered newest-first.
func (r *taskRepo) List(ctx context.Context, limit, offset int) ([]*models.Task, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var tasks []*models.Task
	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// ListTerminalBefore retrieves completed/failed tasks finished before the given time.
func (r *taskRepo) ListTerminalBefore(ctx context.Context, before time.Time) ([]*models.Task, error) {
	var tasks []*models.Task
	if err := r.db.WithContext(ctx).
		Where("status IN (?, ?) AND completed_at < ?",
			models.TaskStatusCompleted, models.TaskStatusFailed, before).
		Order("completed_at ASC").
		Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing terminal tasks: %w", err)
	}
	return tasks, nil
}

// Delete deletes a task by ID.
func (r *taskRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Task{}).Error; err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return nil
}

// Ensure taskRepo implements TaskRepository at compile time.
var _ TaskRepository = (*taskRepo)(nil)
