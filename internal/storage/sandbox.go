// Package storage provides sandboxed blob storage for transcribebridge.
// All file operations are restricted to the configured storage root so a
// crafted blob path can never escape it.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox provides file operations confined to a base directory.
// Every path is resolved and checked before it touches the filesystem.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a Sandbox rooted at the given base directory,
// creating it if needed.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute path to the sandbox base directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath resolves a relative path within the sandbox.
// Absolute paths and paths that traverse outside the base directory are rejected.
func (s *Sandbox) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("path escapes sandbox: %s (absolute paths not allowed)", relativePath)
	}

	cleanPath := filepath.Clean(relativePath)
	fullPath := filepath.Join(s.baseDir, cleanPath)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) && absPath != s.baseDir {
		return "", fmt.Errorf("path escapes sandbox: %s", relativePath)
	}

	return absPath, nil
}

// Exists checks if a path exists within the sandbox.
func (s *Sandbox) Exists(relativePath string) (bool, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking path: %w", err)
	}
	return true, nil
}

// MkdirAll creates a directory and all parent directories within the sandbox.
func (s *Sandbox) MkdirAll(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return nil
}

// WriteFile writes data to a file within the sandbox, creating parent
// directories as needed.
func (s *Sandbox) WriteFile(relativePath string, data []byte) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// ReadFile reads a file from within the sandbox.
func (s *Sandbox) ReadFile(relativePath string) ([]byte, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Open opens a file within the sandbox for reading.
func (s *Sandbox) Open(relativePath string) (*os.File, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return file, nil
}

// Remove removes a file or empty directory within the sandbox.
func (s *Sandbox) Remove(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing path: %w", err)
	}
	return nil
}

// RemoveAll removes a path and all its contents within the sandbox.
func (s *Sandbox) RemoveAll(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	if path == s.baseDir {
		return fmt.Errorf("cannot remove sandbox base directory")
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing path: %w", err)
	}
	return nil
}

// AtomicWriteReader streams data from a reader to a file within the sandbox.
// The data lands in a temporary file first and is renamed into place, so a
// partially written blob is never visible at the target path.
func (s *Sandbox) AtomicWriteReader(relativePath string, r io.Reader) error {
	targetPath, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tempName := fmt.Sprintf(".%s.%s.tmp", filepath.Base(relativePath), randomHex(8))
	tempPath := filepath.Join(dir, tempName)

	tempFile, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	_, err = io.Copy(tempFile, r)
	closeErr := tempFile.Close()

	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("writing to temporary file: %w", err)
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing temporary file: %w", closeErr)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming to target: %w", err)
	}

	return nil
}

// List returns the entries in a directory within the sandbox.
func (s *Sandbox) List(relativePath string) ([]os.DirEntry, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	return entries, nil
}

// Stat returns file info for a path within the sandbox.
func (s *Sandbox) Stat(relativePath string) (os.FileInfo, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("getting file info: %w", err)
	}
	return info, nil
}

// Size returns the size of a file within the sandbox.
func (s *Sandbox) Size(relativePath string) (int64, error) {
	info, err := s.Stat(relativePath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	bytes := make([]byte, n/2+1)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(bytes)[:n]
}
