package storage

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transcribebridge/transcribebridge/internal/models"
)

func setupTestBlobStore(t *testing.T) *localBlobStore {
	t.Helper()

	store, err := NewLocalBlobStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestBlobPaths(t *testing.T) {
	taskID := models.MustParseULID("01HZXK3V9GQF2M8R5T7W1N4B6D")

	assert.Equal(t, "uploads/01HZXK3V9GQF2M8R5T7W1N4B6D/lecture.mp3",
		UploadPath(taskID, "lecture.mp3"))
	assert.Equal(t, "converted/01HZXK3V9GQF2M8R5T7W1N4B6D/audio.mp3",
		ConvertedPath(taskID))
	assert.Equal(t, "segments/01HZXK3V9GQF2M8R5T7W1N4B6D/segment_0.mp3",
		SegmentPath(taskID, 0))
	assert.Equal(t, "segments/01HZXK3V9GQF2M8R5T7W1N4B6D/segment_12.mp3",
		SegmentPath(taskID, 12))
}

func TestBlobStore_PutAndGet(t *testing.T) {
	store := setupTestBlobStore(t)
	taskID := models.NewULID()

	content := []byte("fake audio bytes")
	path := SegmentPath(taskID, 0)

	require.NoError(t, store.Put(path, bytes.NewReader(content)))

	got, err := store.Get(path)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestBlobStore_Open(t *testing.T) {
	store := setupTestBlobStore(t)
	taskID := models.NewULID()

	content := []byte("streamed audio bytes")
	path := UploadPath(taskID, "meeting.wav")
	require.NoError(t, store.Put(path, bytes.NewReader(content)))

	rc, err := store.Open(path)
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestBlobStore_ExistsAndSize(t *testing.T) {
	store := setupTestBlobStore(t)
	taskID := models.NewULID()
	path := SegmentPath(taskID, 3)

	exists, err := store.Exists(path)
	require.NoError(t, err)
	assert.False(t, exists)

	content := []byte("12345")
	require.NoError(t, store.Put(path, bytes.NewReader(content)))

	exists, err = store.Exists(path)
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := store.Size(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
}

func TestBlobStore_ListSegments(t *testing.T) {
	store := setupTestBlobStore(t)
	taskID := models.NewULID()
	other := models.NewULID()

	require.NoError(t, store.Put(SegmentPath(taskID, 1), bytes.NewReader([]byte("b"))))
	require.NoError(t, store.Put(SegmentPath(taskID, 0), bytes.NewReader([]byte("a"))))
	require.NoError(t, store.Put(SegmentPath(other, 0), bytes.NewReader([]byte("x"))))

	paths, err := store.ListSegments(taskID)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, SegmentPath(taskID, 0), paths[0])
	assert.Equal(t, SegmentPath(taskID, 1), paths[1])
}

func TestBlobStore_ListSegments_NoDirectory(t *testing.T) {
	store := setupTestBlobStore(t)

	paths, err := store.ListSegments(models.NewULID())
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestBlobStore_RemoveTask(t *testing.T) {
	store := setupTestBlobStore(t)
	taskID := models.NewULID()
	other := models.NewULID()

	require.NoError(t, store.Put(UploadPath(taskID, "a.mp3"), bytes.NewReader([]byte("u"))))
	require.NoError(t, store.Put(ConvertedPath(taskID), bytes.NewReader([]byte("c"))))
	require.NoError(t, store.Put(SegmentPath(taskID, 0), bytes.NewReader([]byte("s"))))
	require.NoError(t, store.Put(SegmentPath(other, 0), bytes.NewReader([]byte("keep"))))

	require.NoError(t, store.RemoveTask(taskID))

	for _, path := range []string{
		UploadPath(taskID, "a.mp3"),
		ConvertedPath(taskID),
		SegmentPath(taskID, 0),
	} {
		exists, err := store.Exists(path)
		require.NoError(t, err)
		assert.False(t, exists, "blob should be removed: %s", path)
	}

	// Other task's blobs are untouched.
	exists, err := store.Exists(SegmentPath(other, 0))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBlobStore_RemoveTask_Idempotent(t *testing.T) {
	store := setupTestBlobStore(t)

	// Removing blobs for a task that never stored any is not an error.
	assert.NoError(t, store.RemoveTask(models.NewULID()))
}

func TestBlobStore_RejectsTraversalPath(t *testing.T) {
	store := setupTestBlobStore(t)

	err := store.Put("../outside.mp3", bytes.NewReader([]byte("nope")))
	assert.Error(t, err)

	_, err = store.Get("../../etc/passwd")
	assert.Error(t, err)
}
