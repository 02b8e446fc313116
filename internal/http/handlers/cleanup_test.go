package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/service"
	"github.com/transcribebridge/transcribebridge/internal/storage"
)

func newCleanupHandler(t *testing.T) (*CleanupHandler, *stubTaskRepo, *stubSegmentRepo) {
	t.Helper()

	tasks := newStubTaskRepo()
	segments := newStubSegmentRepo()
	blobs, err := storage.NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)
	q := newTestQueue(t, segments)

	cleanup := service.NewCleanupService(tasks, segments, blobs, q, 7*24*time.Hour).
		WithLogger(testLogger())
	return NewCleanupHandler(cleanup, testLogger()), tasks, segments
}

func TestCleanupHandler_CleanupTask(t *testing.T) {
	handler, tasks, segments := newCleanupHandler(t)
	ctx := context.Background()

	task := &models.Task{
		ClientCallbackURL: "https://client.example.com/hook",
		OriginalFilename:  "meeting.mp3",
		Status:            models.TaskStatusCompleted,
		TotalSegments:     1,
	}
	require.NoError(t, tasks.Create(ctx, task))
	require.NoError(t, segments.Create(ctx, &models.Segment{
		TaskID:       task.ID,
		BlobPath:     storage.SegmentPath(task.ID, 0),
		StartSeconds: 0,
		EndSeconds:   900,
		Status:       models.SegmentStatusCompleted,
	}))

	output, err := handler.CleanupTask(ctx, &CleanupTaskInput{ID: task.ID.String()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), output.Body.SegmentsDeleted)

	got, err := tasks.GetByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCleanupHandler_CleanupTask_BadID(t *testing.T) {
	handler, _, _ := newCleanupHandler(t)

	_, err := handler.CleanupTask(context.Background(), &CleanupTaskInput{ID: "nope"})
	assert.Error(t, err)
}

func TestCleanupHandler_CleanupTask_StillProcessing(t *testing.T) {
	handler, tasks, _ := newCleanupHandler(t)
	ctx := context.Background()

	task := &models.Task{
		ClientCallbackURL: "https://client.example.com/hook",
		OriginalFilename:  "meeting.mp3",
		Status:            models.TaskStatusProcessing,
		TotalSegments:     1,
	}
	require.NoError(t, tasks.Create(ctx, task))

	_, err := handler.CleanupTask(ctx, &CleanupTaskInput{ID: task.ID.String()})
	assert.Error(t, err)

	output, err := handler.CleanupTask(ctx, &CleanupTaskInput{ID: task.ID.String(), Force: true})
	require.NoError(t, err)
	assert.Equal(t, task.ID.String(), output.Body.TaskID)
}

func TestCleanupHandler_RunCleanup_Sweep(t *testing.T) {
	handler, _, _ := newCleanupHandler(t)

	output, err := handler.RunCleanup(context.Background(), &RunCleanupInput{})
	require.NoError(t, err)
	require.NotNil(t, output.Body.Sweep)
	assert.Nil(t, output.Body.Task)
	assert.Zero(t, output.Body.Sweep.TasksDeleted)
}

func TestCleanupHandler_RunCleanup_SingleTask(t *testing.T) {
	handler, tasks, _ := newCleanupHandler(t)
	ctx := context.Background()

	task := &models.Task{
		ClientCallbackURL: "https://client.example.com/hook",
		OriginalFilename:  "meeting.mp3",
		Status:            models.TaskStatusCompleted,
		TotalSegments:     0,
	}
	require.NoError(t, tasks.Create(ctx, task))

	input := &RunCleanupInput{}
	input.Body.TaskID = task.ID.String()
	output, err := handler.RunCleanup(ctx, input)
	require.NoError(t, err)
	require.NotNil(t, output.Body.Task)
	assert.Equal(t, task.ID.String(), output.Body.Task.TaskID)

	bad := &RunCleanupInput{}
	bad.Body.TaskID = "nope"
	_, err = handler.RunCleanup(ctx, bad)
	assert.Error(t, err)
}
