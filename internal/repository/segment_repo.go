package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/transcribebridge/transcribebridge/internal/models"
)

// segmentRepo implements SegmentRepository using GORM.
type segmentRepo struct {
	db *gorm.DB
}

// NewSegmentRepository creates a new SegmentRepository.
func NewSegmentRepository(db *gorm.DB) *segmentRepo {
	return &segmentRepo{db: db}
}

// Create creates a new segment.
func (r *segmentRepo) Create(ctx context.Context, segment *models.Segment) error {
	if err := r.db.WithContext(ctx).Create(segment).Error; err != nil {
		return fmt.Errorf("creating segment: %w", err)
	}
	return nil
}

// CreateBatch creates multiple segments in a single transaction.
func (r *segmentRepo) CreateBatch(ctx context.Context, segments []*models.Segment) error {
	if len(segments) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, segment := range segments {
			if err := tx.Create(segment).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating segment batch: %w", err)
	}
	return nil
}

// GetByID retrieves a segment by ID.
func (r *segmentRepo) GetByID(ctx context.Context, id models.ULID) (*models.Segment, error) {
	var segment models.Segment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&segment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting segment by ID: %w", err)
	}
	return &segment, nil
}

// Update updates an existing segment.
func (r *segmentRepo) Update(ctx context.Context, segment *models.Segment) error {
	if err := r.db.WithContext(ctx).Save(segment).Error; err != nil {
		return fmt.Errorf("updating segment: %w", err)
	}
	return nil
}

// UpdateStatus sets only the status column of a segment.
func (r *segmentRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.SegmentStatus) error {
	result := r.db.WithContext(ctx).Model(&models.Segment{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("updating segment status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("updating segment status: segment %s not found", id)
	}
	return nil
}

// GetByTaskID retrieves all segments for a task ordered by start time.
// CreatedAt breaks ties so the order stays stable for equal start times.
func (r *segmentRepo) GetByTaskID(ctx context.Context, taskID models.ULID) ([]*models.Segment, error) {
	var segments []*models.Segment
	if err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("start_seconds ASC, created_at ASC").
		Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("getting segments by task ID: %w", err)
	}
	return segments, nil
}

// FindByProviderRequestID retrieves the segment matched to a provider request ID.
func (r *segmentRepo) FindByProviderRequestID(ctx context.Context, requestID string) (*models.Segment, error) {
	var segment models.Segment
	if err := r.db.WithContext(ctx).
		Where("provider_request_id = ?", requestID).
		First(&segment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("finding segment by provider request ID: %w", err)
	}
	return &segment, nil
}

// ListPending retrieves pending segments across all tasks, oldest first.
func (r *segmentRepo) ListPending(ctx context.Context) ([]*models.Segment, error) {
	var segments []*models.Segment
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.SegmentStatusPending).
		Order("created_at ASC").
		Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("listing pending segments: %w", err)
	}
	return segments, nil
}

// CountByTaskAndStatus returns how many of a task's segments are in the given status.
func (r *segmentRepo) CountByTaskAndStatus(ctx context.Context, taskID models.ULID, status models.SegmentStatus) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Segment{}).
		Where("task_id = ? AND status = ?", taskID, status).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting segments by status: %w", err)
	}
	return count, nil
}

// ListStaleProcessing retrieves segments stuck in processing with no
// provider request ID.
func (r *segmentRepo) ListStaleProcessing(ctx context.Context) ([]*models.Segment, error) {
	var segments []*models.Segment
	if err := r.db.WithContext(ctx).
		Where("status = ? AND provider_request_id = ?", models.SegmentStatusProcessing, "").
		Order("created_at ASC").
		Find(&segments).Error; err != nil {
		return nil, fmt.Errorf("listing stale processing segments: %w", err)
	}
	return segments, nil
}

// DeleteByTaskID deletes all of a task's segments.
func (r *segmentRepo) DeleteByTaskID(ctx context.Context, taskID models.ULID) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Delete(&models.Segment{})
	if result.Error != nil {
		return 0, fmt.Errorf("deleting segments by task ID: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ensure segmentRepo implements SegmentRepository at compile time.
var _ SegmentRepository = (*segmentRepo)(nil)
