package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSandbox(t *testing.T) {
	tmpDir := t.TempDir()
	sandboxDir := filepath.Join(tmpDir, "sandbox")

	sb, err := NewSandbox(sandboxDir)
	require.NoError(t, err)
	require.NotNil(t, sb)

	// Verify directory was created
	info, err := os.Stat(sandboxDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Verify BaseDir returns absolute path
	assert.True(t, filepath.IsAbs(sb.BaseDir()))
}

func TestSandbox_ResolvePath(t *testing.T) {
	sb := setupTestSandbox(t)

	tests := []struct {
		name        string
		path        string
		shouldError bool
	}{
		{"simple file", "test.mp3", false},
		{"nested path", "segments/01HZX/segment_0.mp3", false},
		{"deep nesting", "a/b/c/d/test.mp3", false},
		{"current dir", ".", false},
		{"parent escape attempt", "../escape.mp3", true},
		{"nested parent escape", "segments/../../escape.mp3", true},
		{"absolute path escape", "/etc/passwd", true},
		{"hidden file", ".hidden", false},
		{"dot dot name", "..test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := sb.ResolvePath(tt.path)
			if tt.shouldError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "escapes sandbox")
			} else {
				assert.NoError(t, err)
				assert.True(t, strings.HasPrefix(resolved, sb.BaseDir()))
			}
		})
	}
}

func TestSandbox_WriteAndReadFile(t *testing.T) {
	sb := setupTestSandbox(t)
	content := []byte("test content")

	err := sb.WriteFile("test.txt", content)
	require.NoError(t, err)

	data, err := sb.ReadFile("test.txt")
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestSandbox_WriteFile_CreatesParentDirs(t *testing.T) {
	sb := setupTestSandbox(t)
	content := []byte("nested content")

	err := sb.WriteFile("a/b/c/test.txt", content)
	require.NoError(t, err)

	exists, err := sb.Exists("a/b/c/test.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSandbox_Exists(t *testing.T) {
	sb := setupTestSandbox(t)

	exists, err := sb.Exists("nonexistent.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	err = sb.WriteFile("exists.txt", []byte("test"))
	require.NoError(t, err)

	exists, err = sb.Exists("exists.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSandbox_MkdirAll(t *testing.T) {
	sb := setupTestSandbox(t)

	err := sb.MkdirAll("a/b/c")
	require.NoError(t, err)

	exists, err := sb.Exists("a/b/c")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSandbox_Remove(t *testing.T) {
	sb := setupTestSandbox(t)

	err := sb.WriteFile("to_remove.txt", []byte("test"))
	require.NoError(t, err)

	err = sb.Remove("to_remove.txt")
	require.NoError(t, err)

	exists, err := sb.Exists("to_remove.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSandbox_RemoveAll(t *testing.T) {
	sb := setupTestSandbox(t)

	err := sb.WriteFile("dir/subdir/file.txt", []byte("test"))
	require.NoError(t, err)

	err = sb.RemoveAll("dir")
	require.NoError(t, err)

	exists, err := sb.Exists("dir")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSandbox_RemoveAll_CannotRemoveBase(t *testing.T) {
	sb := setupTestSandbox(t)

	err := sb.RemoveAll(".")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cannot remove sandbox base directory")
}

func TestSandbox_AtomicWriteReader(t *testing.T) {
	sb := setupTestSandbox(t)
	content := []byte("atomic reader content")
	reader := bytes.NewReader(content)

	err := sb.AtomicWriteReader("atomic_reader.txt", reader)
	require.NoError(t, err)

	data, err := sb.ReadFile("atomic_reader.txt")
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestSandbox_AtomicWriteReader_NoTempLeftBehind(t *testing.T) {
	sb := setupTestSandbox(t)

	err := sb.AtomicWriteReader("dir/blob.bin", bytes.NewReader([]byte("data")))
	require.NoError(t, err)

	entries, err := sb.List("dir")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "blob.bin", entries[0].Name())
}

func TestSandbox_Open(t *testing.T) {
	sb := setupTestSandbox(t)

	err := sb.WriteFile("open.txt", []byte("open file test"))
	require.NoError(t, err)

	file, err := sb.Open("open.txt")
	require.NoError(t, err)
	defer file.Close()

	buf := make([]byte, 14)
	n, err := file.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "open file test", string(buf[:n]))
}

func TestSandbox_List(t *testing.T) {
	sb := setupTestSandbox(t)

	err := sb.WriteFile("file1.txt", []byte("1"))
	require.NoError(t, err)
	err = sb.WriteFile("file2.txt", []byte("2"))
	require.NoError(t, err)
	err = sb.MkdirAll("subdir")
	require.NoError(t, err)

	entries, err := sb.List(".")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestSandbox_Stat(t *testing.T) {
	sb := setupTestSandbox(t)

	content := []byte("stat test")
	err := sb.WriteFile("stat.txt", content)
	require.NoError(t, err)

	info, err := sb.Stat("stat.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), info.Size())
	assert.False(t, info.IsDir())
}

func TestSandbox_Size(t *testing.T) {
	sb := setupTestSandbox(t)

	content := []byte("size test content")
	err := sb.WriteFile("size.txt", content)
	require.NoError(t, err)

	size, err := sb.Size("size.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
}

func TestSandbox_PathTraversalAttempts(t *testing.T) {
	sb := setupTestSandbox(t)

	// Various path traversal attempts that should be blocked on all platforms
	attacks := []string{
		"../../../etc/passwd",
		"segments/../../../etc/passwd",
		"/absolute/path",
		"segments/../../..",
		"segments/./../../etc/passwd",
	}

	for _, attack := range attacks {
		t.Run(attack, func(t *testing.T) {
			_, err := sb.ResolvePath(attack)
			assert.Error(t, err, "path traversal should be blocked: %s", attack)
		})
	}
}

func setupTestSandbox(t *testing.T) *Sandbox {
	t.Helper()

	tmpDir := t.TempDir()
	sb, err := NewSandbox(tmpDir)
	require.NoError(t, err)

	return sb
}
