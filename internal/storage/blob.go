package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"

	"github.com/transcribebridge/transcribebridge/internal/models"
)

// BlobStore defines the audio blob operations the pipeline needs. Blob paths
// are opaque, slash-separated keys relative to the store root; they are what
// gets persisted on segment records.
type BlobStore interface {
	// Put streams a blob to the given path, replacing any existing blob.
	Put(blobPath string, r io.Reader) error
	// Get reads an entire blob into memory.
	Get(blobPath string) ([]byte, error)
	// Open opens a blob for streaming reads.
	Open(blobPath string) (io.ReadCloser, error)
	// Exists reports whether a blob is present.
	Exists(blobPath string) (bool, error)
	// Size returns a blob's size in bytes.
	Size(blobPath string) (int64, error)
	// ListSegments returns the segment blob paths stored for a task,
	// sorted by name.
	ListSegments(taskID models.ULID) ([]string, error)
	// RemoveTask removes every blob belonging to a task.
	RemoveTask(taskID models.ULID) error
}

// Blob path layout under the storage root. Uploads hold the original file,
// converted holds the normalized audio, segments hold the per-chunk files
// dispatched to the provider.
const (
	uploadsPrefix   = "uploads"
	convertedPrefix = "converted"
	segmentsPrefix  = "segments"
)

// UploadPath returns the blob path for a task's original upload.
func UploadPath(taskID models.ULID, filename string) string {
	return path.Join(uploadsPrefix, taskID.String(), filename)
}

// ConvertedPath returns the blob path for a task's normalized audio.
func ConvertedPath(taskID models.ULID) string {
	return path.Join(convertedPrefix, taskID.String(), "audio.mp3")
}

// SegmentPath returns the blob path for the k-th segment of a task.
func SegmentPath(taskID models.ULID, index int) string {
	return path.Join(segmentsPrefix, taskID.String(), fmt.Sprintf("segment_%d.mp3", index))
}

// localBlobStore implements BlobStore on a sandboxed local directory.
type localBlobStore struct {
	sandbox *Sandbox
}

// NewLocalBlobStore creates a BlobStore rooted at the given directory.
func NewLocalBlobStore(baseDir string) (*localBlobStore, error) {
	sandbox, err := NewSandbox(baseDir)
	if err != nil {
		return nil, fmt.Errorf("creating blob store: %w", err)
	}
	return &localBlobStore{sandbox: sandbox}, nil
}

// Put streams a blob to the given path.
func (s *localBlobStore) Put(blobPath string, r io.Reader) error {
	return s.sandbox.AtomicWriteReader(blobPath, r)
}

// Get reads an entire blob into memory.
func (s *localBlobStore) Get(blobPath string) ([]byte, error) {
	return s.sandbox.ReadFile(blobPath)
}

// Open opens a blob for streaming reads.
func (s *localBlobStore) Open(blobPath string) (io.ReadCloser, error) {
	return s.sandbox.Open(blobPath)
}

// Exists reports whether a blob is present.
func (s *localBlobStore) Exists(blobPath string) (bool, error) {
	return s.sandbox.Exists(blobPath)
}

// Size returns a blob's size in bytes.
func (s *localBlobStore) Size(blobPath string) (int64, error) {
	return s.sandbox.Size(blobPath)
}

// ListSegments returns the segment blob paths stored for a task.
func (s *localBlobStore) ListSegments(taskID models.ULID) ([]string, error) {
	dir := path.Join(segmentsPrefix, taskID.String())
	entries, err := s.sandbox.List(dir)
	if err != nil {
		// A task with no dispatched segments has no directory yet.
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, path.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// RemoveTask removes every blob belonging to a task.
func (s *localBlobStore) RemoveTask(taskID models.ULID) error {
	id := taskID.String()
	for _, prefix := range []string{uploadsPrefix, convertedPrefix, segmentsPrefix} {
		if err := s.sandbox.RemoveAll(path.Join(prefix, id)); err != nil {
			return fmt.Errorf("removing %s blobs: %w", prefix, err)
		}
	}
	return nil
}

// Ensure localBlobStore implements BlobStore at compile time.
var _ BlobStore = (*localBlobStore)(nil)
