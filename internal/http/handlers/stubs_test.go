package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/queue"
	"github.com/transcribebridge/transcribebridge/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubTaskRepo is an in-memory TaskRepository for handler tests.
type stubTaskRepo struct {
	mu         sync.Mutex
	tasks      map[models.ULID]*models.Task
	increments map[models.ULID]int
}

func newStubTaskRepo() *stubTaskRepo {
	return &stubTaskRepo{
		tasks:      make(map[models.ULID]*models.Task),
		increments: make(map[models.ULID]int),
	}
}

func (r *stubTaskRepo) Create(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID.IsZero() {
		task.ID = models.NewULID()
	}
	copied := *task
	r.tasks[task.ID] = &copied
	return nil
}

func (r *stubTaskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

func (r *stubTaskRepo) Update(ctx context.Context, task *models.Task) error { return nil }

func (r *stubTaskRepo) UpdateStatusCAS(ctx context.Context, id models.ULID, from, to models.TaskStatus, patch map[string]any) (bool, error) {
	return false, nil
}

func (r *stubTaskRepo) IncrementCompletedSegments(ctx context.Context, id models.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.increments[id]++
	return nil
}

func (r *stubTaskRepo) incrementsFor(id models.ULID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.increments[id]
}

func (r *stubTaskRepo) SetCompletedSegments(ctx context.Context, id models.ULID, count int) error {
	return nil
}

func (r *stubTaskRepo) RecordDeliveryOutcome(ctx context.Context, id models.ULID, status models.DeliveryStatus, attempts int, deliveryError string) error {
	return nil
}

func (r *stubTaskRepo) CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[models.TaskStatus]int64)
	for _, task := range r.tasks {
		counts[task.Status]++
	}
	return counts, nil
}

func (r *stubTaskRepo) List(ctx context.Context, limit, offset int) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Task
	for _, task := range r.tasks {
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *stubTaskRepo) ListTerminalBefore(ctx context.Context, before time.Time) ([]*models.Task, error) {
	return nil, nil
}

func (r *stubTaskRepo) Delete(ctx context.Context, id models.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
	return nil
}

// stubSegmentRepo is an in-memory SegmentRepository for handler tests.
type stubSegmentRepo struct {
	mu       sync.Mutex
	segments map[models.ULID]*models.Segment
	order    []models.ULID
}

func newStubSegmentRepo() *stubSegmentRepo {
	return &stubSegmentRepo{segments: make(map[models.ULID]*models.Segment)}
}

func (r *stubSegmentRepo) Create(ctx context.Context, segment *models.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if segment.ID.IsZero() {
		segment.ID = models.NewULID()
	}
	copied := *segment
	r.segments[segment.ID] = &copied
	r.order = append(r.order, segment.ID)
	return nil
}

func (r *stubSegmentRepo) CreateBatch(ctx context.Context, segments []*models.Segment) error {
	for _, s := range segments {
		if err := r.Create(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *stubSegmentRepo) GetByID(ctx context.Context, id models.ULID) (*models.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	segment, ok := r.segments[id]
	if !ok {
		return nil, nil
	}
	copied := *segment
	return &copied, nil
}

func (r *stubSegmentRepo) Update(ctx context.Context, segment *models.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.segments[segment.ID]; !ok {
		return fmt.Errorf("segment %s not found", segment.ID)
	}
	copied := *segment
	r.segments[segment.ID] = &copied
	return nil
}

func (r *stubSegmentRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.SegmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	segment, ok := r.segments[id]
	if !ok {
		return fmt.Errorf("segment %s not found", id)
	}
	segment.Status = status
	return nil
}

func (r *stubSegmentRepo) GetByTaskID(ctx context.Context, taskID models.ULID) ([]*models.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Segment
	for _, id := range r.order {
		if r.segments[id].TaskID == taskID {
			copied := *r.segments[id]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *stubSegmentRepo) FindByProviderRequestID(ctx context.Context, requestID string) (*models.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, segment := range r.segments {
		if segment.ProviderRequestID == requestID {
			copied := *segment
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *stubSegmentRepo) ListPending(ctx context.Context) ([]*models.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Segment
	for _, id := range r.order {
		if r.segments[id].Status == models.SegmentStatusPending {
			copied := *r.segments[id]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *stubSegmentRepo) CountByTaskAndStatus(ctx context.Context, taskID models.ULID, status models.SegmentStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, segment := range r.segments {
		if segment.TaskID == taskID && segment.Status == status {
			n++
		}
	}
	return n, nil
}

func (r *stubSegmentRepo) ListStaleProcessing(ctx context.Context) ([]*models.Segment, error) {
	return nil, nil
}

func (r *stubSegmentRepo) DeleteByTaskID(ctx context.Context, taskID models.ULID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed int64
	kept := r.order[:0]
	for _, id := range r.order {
		if r.segments[id].TaskID == taskID {
			delete(r.segments, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return removed, nil
}

// stubCompletionChecker records completion checks.
type stubCompletionChecker struct {
	mu      sync.Mutex
	taskIDs []models.ULID
	err     error
}

func (c *stubCompletionChecker) CheckTaskCompletion(ctx context.Context, taskID models.ULID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.taskIDs = append(c.taskIDs, taskID)
	return c.err
}

func (c *stubCompletionChecker) checks() []models.ULID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ULID(nil), c.taskIDs...)
}

// newTestQueue builds a queue over the stub segment repo with no
// dispatcher; enqueue-only paths never dispatch.
func newTestQueue(t *testing.T, segments *stubSegmentRepo) *queue.Queue {
	t.Helper()
	blobs, err := storage.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)
	return queue.New(queue.DefaultConfig(), segments, blobs, nil, nil, testLogger())
}
