package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transcribebridge/transcribebridge/internal/assembler"
	"github.com/transcribebridge/transcribebridge/internal/models"
)

// fakeTaskRepo implements the task repository with real CAS semantics so
// concurrency tests exercise the single-winner guarantee.
type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[models.ULID]*models.Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[models.ULID]*models.Task)}
}

func (r *fakeTaskRepo) Create(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID.IsZero() {
		task.ID = models.NewULID()
	}
	copied := *task
	r.tasks[task.ID] = &copied
	return nil
}

func (r *fakeTaskRepo) GetByID(ctx context.Context, id models.ULID) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

func (r *fakeTaskRepo) Update(ctx context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *task
	r.tasks[task.ID] = &copied
	return nil
}

func (r *fakeTaskRepo) UpdateStatusCAS(ctx context.Context, id models.ULID, from, to models.TaskStatus, patch map[string]any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok || task.Status != from {
		return false, nil
	}
	task.Status = to
	for column, value := range patch {
		switch column {
		case "final_transcript":
			task.FinalTranscript = value.(string)
		case "error_message":
			task.ErrorMessage = value.(string)
		case "completed_at":
			at := value.(models.Time)
			task.CompletedAt = &at
		}
	}
	return true, nil
}

func (r *fakeTaskRepo) IncrementCompletedSegments(ctx context.Context, id models.ULID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task, ok := r.tasks[id]; ok {
		task.CompletedSegments++
	}
	return nil
}

func (r *fakeTaskRepo) SetCompletedSegments(ctx context.Context, id models.ULID, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	task.CompletedSegments = count
	return nil
}

func (r *fakeTaskRepo) RecordDeliveryOutcome(ctx context.Context, id models.ULID, status models.DeliveryStatus, attempts int, deliveryError string) error {
	return nil
}

func (r *fakeTaskRepo) CountByStatus(ctx context.Context) (map[models.TaskStatus]int64, error) {
	return nil, nil
}

func (r *fakeTaskRepo) List(ctx context.Context, limit, offset int) ([]*models.Task, error) {
	return nil, nil
}

func (r *fakeTaskRepo) ListTerminalBefore(ctx context.Context, before time.Time) ([]*models.Task, error) {
	return nil, nil
}

func (r *fakeTaskRepo) Delete(ctx context.Context, id models.ULID) error { return nil }

// fakeSegmentRepo serves a fixed segment set per task.
type fakeSegmentRepo struct {
	mu     sync.Mutex
	byTask map[models.ULID][]*models.Segment
}

func newFakeSegmentRepo() *fakeSegmentRepo {
	return &fakeSegmentRepo{byTask: make(map[models.ULID][]*models.Segment)}
}

func (r *fakeSegmentRepo) add(segment *models.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTask[segment.TaskID] = append(r.byTask[segment.TaskID], segment)
}

func (r *fakeSegmentRepo) Create(ctx context.Context, segment *models.Segment) error {
	r.add(segment)
	return nil
}

func (r *fakeSegmentRepo) CreateBatch(ctx context.Context, segments []*models.Segment) error {
	for _, s := range segments {
		r.add(s)
	}
	return nil
}

func (r *fakeSegmentRepo) GetByID(ctx context.Context, id models.ULID) (*models.Segment, error) {
	return nil, nil
}

func (r *fakeSegmentRepo) Update(ctx context.Context, segment *models.Segment) error { return nil }

func (r *fakeSegmentRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.SegmentStatus) error {
	return nil
}

func (r *fakeSegmentRepo) GetByTaskID(ctx context.Context, taskID models.ULID) ([]*models.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.Segment(nil), r.byTask[taskID]...), nil
}

func (r *fakeSegmentRepo) FindByProviderRequestID(ctx context.Context, requestID string) (*models.Segment, error) {
	return nil, nil
}

func (r *fakeSegmentRepo) ListPending(ctx context.Context) ([]*models.Segment, error) {
	return nil, nil
}

func (r *fakeSegmentRepo) CountByTaskAndStatus(ctx context.Context, taskID models.ULID, status models.SegmentStatus) (int64, error) {
	return 0, nil
}

func (r *fakeSegmentRepo) ListStaleProcessing(ctx context.Context) ([]*models.Segment, error) {
	return nil, nil
}

func (r *fakeSegmentRepo) DeleteByTaskID(ctx context.Context, taskID models.ULID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := int64(len(r.byTask[taskID]))
	delete(r.byTask, taskID)
	return removed, nil
}

// fakeDeliverer records every delivery.
type fakeDeliverer struct {
	mu      sync.Mutex
	tasks   []models.Task
	results []*assembler.Result
}

func (d *fakeDeliverer) Deliver(ctx context.Context, task *models.Task, result *assembler.Result) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, *task)
	d.results = append(d.results, result)
	return nil
}

func (d *fakeDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

type coordinatorFixture struct {
	coordinator *Coordinator
	tasks       *fakeTaskRepo
	segments    *fakeSegmentRepo
	deliverer   *fakeDeliverer
}

func newCoordinatorFixture(t *testing.T, strict bool) *coordinatorFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &coordinatorFixture{
		tasks:     newFakeTaskRepo(),
		segments:  newFakeSegmentRepo(),
		deliverer: &fakeDeliverer{},
	}
	f.coordinator = New(f.tasks, f.segments, assembler.New(logger), f.deliverer, strict, logger)
	return f
}

// addTask creates a processing task with the given segment statuses. A
// non-empty text means a completed segment; "FAIL" means a failed one;
// "" means still processing.
func (f *coordinatorFixture) addTask(t *testing.T, texts ...string) *models.Task {
	t.Helper()
	task := &models.Task{
		ClientCallbackURL: "https://client.example.com/hook",
		OriginalFilename:  "lecture.mp3",
		Status:            models.TaskStatusProcessing,
		TotalSegments:     len(texts),
	}
	task.ID = models.NewULID()
	task.CreatedAt = time.Now()
	require.NoError(t, f.tasks.Create(context.Background(), task))

	for i, text := range texts {
		segment := &models.Segment{
			TaskID:       task.ID,
			BlobPath:     fmt.Sprintf("segments/%s/segment_%d.mp3", task.ID, i),
			StartSeconds: float64(i) * 900,
			EndSeconds:   float64(i+1) * 900,
			Status:       models.SegmentStatusProcessing,
		}
		segment.ID = models.NewULID()
		switch text {
		case "":
		case "FAIL":
			segment.MarkFailed("provider rejected the audio")
		default:
			segment.MarkCompleted(text, "en")
		}
		f.segments.add(segment)
	}
	return task
}

func TestCheckTaskCompletion_StillInFlight(t *testing.T) {
	f := newCoordinatorFixture(t, true)
	task := f.addTask(t, "first part", "", "")

	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))

	stored, err := f.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusProcessing, stored.Status)
	assert.Equal(t, 1, stored.CompletedSegments)
	assert.Zero(t, f.deliverer.count())
}

func TestCheckTaskCompletion_AllCompleted(t *testing.T) {
	f := newCoordinatorFixture(t, true)
	task := f.addTask(t, "hello world", "from two segments")

	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))

	stored, err := f.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, stored.Status)
	assert.Equal(t, "hello world from two segments", stored.FinalTranscript)
	assert.Equal(t, 2, stored.CompletedSegments)
	require.NotNil(t, stored.CompletedAt)

	require.Equal(t, 1, f.deliverer.count())
	assert.Equal(t, models.TaskStatusCompleted, f.deliverer.tasks[0].Status)
	require.NotNil(t, f.deliverer.results[0])
	assert.Equal(t, "hello world from two segments", f.deliverer.results[0].Transcript)
	assert.Equal(t, 2, f.deliverer.results[0].Metadata.SegmentCount)
}

func TestCheckTaskCompletion_StrictFailsTask(t *testing.T) {
	f := newCoordinatorFixture(t, true)
	task := f.addTask(t, "ok here", "FAIL", "ok there")

	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))

	stored, err := f.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, stored.Status)
	assert.Equal(t, "1 segments failed to process", stored.ErrorMessage)
	assert.Empty(t, stored.FinalTranscript)
	assert.Equal(t, 2, stored.CompletedSegments)

	require.Equal(t, 1, f.deliverer.count())
	assert.Equal(t, models.TaskStatusFailed, f.deliverer.tasks[0].Status)
	assert.Nil(t, f.deliverer.results[0])
}

func TestCheckTaskCompletion_LenientAssemblesPartial(t *testing.T) {
	f := newCoordinatorFixture(t, false)
	task := f.addTask(t, "kept one", "FAIL", "kept two")

	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))

	stored, err := f.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, stored.Status)
	assert.Equal(t, "kept one kept two", stored.FinalTranscript)

	require.Equal(t, 1, f.deliverer.count())
	require.NotNil(t, f.deliverer.results[0])
	assert.Equal(t, 2, f.deliverer.results[0].Metadata.SegmentCount)
}

func TestCheckTaskCompletion_LenientAllFailed(t *testing.T) {
	f := newCoordinatorFixture(t, false)
	task := f.addTask(t, "FAIL", "FAIL", "FAIL")

	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))

	stored, err := f.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, stored.Status)
	assert.Equal(t, "3 segments failed to process", stored.ErrorMessage)
	assert.Equal(t, 1, f.deliverer.count())
}

func TestCheckTaskCompletion_SingleSegmentTask(t *testing.T) {
	f := newCoordinatorFixture(t, true)
	task := f.addTask(t, "the entire recording")

	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))

	stored, err := f.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, stored.Status)
	assert.Equal(t, "the entire recording", stored.FinalTranscript)
	assert.Equal(t, 1, f.deliverer.count())
}

func TestCheckTaskCompletion_Idempotent(t *testing.T) {
	f := newCoordinatorFixture(t, true)
	task := f.addTask(t, "once", "only")

	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))
	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))
	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))

	assert.Equal(t, 1, f.deliverer.count())
}

func TestCheckTaskCompletion_ConcurrentCallersDeliverOnce(t *testing.T) {
	f := newCoordinatorFixture(t, true)
	task := f.addTask(t, "racing", "callers", "here")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.deliverer.count())

	stored, err := f.tasks.GetByID(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, stored.Status)
}

func TestCheckTaskCompletion_TaskNotFound(t *testing.T) {
	f := newCoordinatorFixture(t, true)

	err := f.coordinator.CheckTaskCompletion(context.Background(), models.NewULID())
	require.Error(t, err)
	assert.Equal(t, models.CategoryNotFound, models.ErrorCategoryOf(err))
}

func TestCheckTaskCompletion_TerminalTaskIsNoOp(t *testing.T) {
	f := newCoordinatorFixture(t, true)
	task := f.addTask(t, "done")
	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))
	require.Equal(t, 1, f.deliverer.count())

	// A late webhook for an already-terminal task changes nothing.
	require.NoError(t, f.coordinator.CheckTaskCompletion(context.Background(), task.ID))
	assert.Equal(t, 1, f.deliverer.count())
}
