package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transcribebridge/transcribebridge/internal/config"
	"github.com/transcribebridge/transcribebridge/internal/database"
	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/repository"
	"github.com/transcribebridge/transcribebridge/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCleanupOrphanedTempFiles(t *testing.T) {
	baseDir := t.TempDir()
	logger := testLogger()

	old := filepath.Join(baseDir, "segments", ".segment_0.mp3.a1b2c3d4.tmp")
	require.NoError(t, os.MkdirAll(filepath.Dir(old), 0o755))
	require.NoError(t, os.WriteFile(old, []byte("partial"), 0o644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	recent := filepath.Join(baseDir, ".upload.mp3.deadbeef.tmp")
	require.NoError(t, os.WriteFile(recent, []byte("in flight"), 0o644))

	regular := filepath.Join(baseDir, "segments", "segment_0.mp3")
	require.NoError(t, os.WriteFile(regular, []byte("audio"), 0o644))
	require.NoError(t, os.Chtimes(regular, past, past))

	removed, err := CleanupOrphanedTempFiles(logger, baseDir, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
	assert.FileExists(t, regular)
}

func TestCleanupOrphanedTempFiles_MissingDir(t *testing.T) {
	removed, err := CleanupOrphanedTempFiles(testLogger(), filepath.Join(t.TempDir(), "nope"), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func setupSegments(t *testing.T) repository.SegmentRepository {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "startup_test.db"),
		LogLevel: "silent",
	}, testLogger(), &database.Options{PrepareStmt: false})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return repository.NewSegmentRepository(db.DB)
}

func TestRecoverStaleSegments(t *testing.T) {
	segments := setupSegments(t)
	ctx := context.Background()

	taskID := models.NewULID()
	newSegment := func(index int, status models.SegmentStatus, requestID string) *models.Segment {
		segment := &models.Segment{
			TaskID:            taskID,
			BlobPath:          storage.SegmentPath(taskID, index),
			StartSeconds:      float64(index) * 900,
			EndSeconds:        float64(index+1) * 900,
			ProviderRequestID: requestID,
		}
		require.NoError(t, segments.Create(ctx, segment))
		if status != models.SegmentStatusPending {
			segment.Status = status
			require.NoError(t, segments.Update(ctx, segment))
		}
		return segment
	}

	stale := newSegment(0, models.SegmentStatusProcessing, "")
	dispatched := newSegment(1, models.SegmentStatusProcessing, "req_live")
	pending := newSegment(2, models.SegmentStatusPending, "")

	recovered, err := RecoverStaleSegments(ctx, testLogger(), segments)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	got, err := segments.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusPending, got.Status)

	got, err = segments.GetByID(ctx, dispatched.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusProcessing, got.Status)

	got, err = segments.GetByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusPending, got.Status)
}

func TestRecoverStaleSegments_NothingToDo(t *testing.T) {
	segments := setupSegments(t)

	recovered, err := RecoverStaleSegments(context.Background(), testLogger(), segments)
	require.NoError(t, err)
	assert.Zero(t, recovered)
}
