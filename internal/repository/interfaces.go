// Package repository defines data access interfaces for transcribebridge.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/transcribebridge/transcribebridge/internal/models"
)

// TaskRepository defines operations for managing transcription tasks.
type TaskRepository interface {
	// Create creates a new task.
	Create(ctx context.Context, task *models.Task) error
	// GetByID retrieves a task by ID. Returns (nil, nil) when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Task, error)
	// Update updates an existing task.
	Update(ctx context.Context, task *models.Task) error
	// UpdateStatusCAS transitions a task from one status to another, applying
	// the given column patch only when the current status still matches `from`.
	// Returns false when another writer already moved the task out of `from`.
	UpdateStatusCAS(ctx context.Context, id models.ULID, from, to models.TaskStatus, patch map[string]any) (bool, error)
	// IncrementCompletedSegments atomically bumps the completed segment counter.
	IncrementCompletedSegments(ctx context.Context, id models.ULID) error
	// SetCompletedSegments overwrites the completed segment counter, used when
	// reconciling the counter against the actual segment rows.
	SetCompletedSegments(ctx context.Context, id models.ULID, count int) error
	// RecordDeliveryOutcome persists the result of a client webhook delivery
	// without touching the task's processing fields.
	RecordDeliveryOutcome(ctx context.Context, id models.ULID, status models.DeliveryStatus, attempts int, deliveryError string) error
	// CountByStatus returns the number of tasks per status.
	CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error)
	// List retrieves tasks ordered newest-first. limit <= 0 means no limit.
	List(ctx context.Context, limit, offset int) ([]*models.Task, error)
	// ListTerminalBefore retrieves completed/failed tasks whose terminal
	// transition happened before the given time.
	ListTerminalBefore(ctx context.Context, before time.Time) ([]*models.Task, error)
	// Delete deletes a task by ID.
	Delete(ctx context.Context, id models.ULID) error
}

// SegmentRepository defines operations for managing audio segments.
type SegmentRepository interface {
	// Create creates a new segment.
	Create(ctx context.Context, segment *models.Segment) error
	// CreateBatch creates multiple segments in a single transaction.
	CreateBatch(ctx context.Context, segments []*models.Segment) error
	// GetByID retrieves a segment by ID. Returns (nil, nil) when not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Segment, error)
	// Update updates an existing segment.
	Update(ctx context.Context, segment *models.Segment) error
	// UpdateStatus sets only the status column of a segment.
	UpdateStatus(ctx context.Context, id models.ULID, status models.SegmentStatus) error
	// GetByTaskID retrieves all segments for a task ordered by start time.
	GetByTaskID(ctx context.Context, taskID models.ULID) ([]*models.Segment, error)
	// FindByProviderRequestID retrieves the segment matched to a provider
	// request ID. Returns (nil, nil) when not found.
	FindByProviderRequestID(ctx context.Context, requestID string) (*models.Segment, error)
	// ListPending retrieves pending segments across all tasks, oldest first.
	ListPending(ctx context.Context) ([]*models.Segment, error)
	// CountByTaskAndStatus returns how many of a task's segments are in the
	// given status.
	CountByTaskAndStatus(ctx context.Context, taskID models.ULID, status models.SegmentStatus) (int64, error)
	// ListStaleProcessing retrieves segments stuck in processing with no
	// provider request ID, i.e. a dispatch that died before the provider
	// accepted it.
	ListStaleProcessing(ctx context.Context) ([]*models.Segment, error)
	// DeleteByTaskID deletes all of a task's segments, returning how many
	// rows were removed.
	DeleteByTaskID(ctx context.Context, taskID models.ULID) (int64, error)
}
