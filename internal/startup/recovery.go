// Package startup provides utilities for application startup tasks.
package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/repository"
)

// DefaultTempFileAge is the default maximum age for orphaned atomic-write
// temp files before startup removes them.
const DefaultTempFileAge = 1 * time.Hour

// CleanupOrphanedTempFiles removes leftover ".*.tmp" files under the blob
// store base directory that are older than maxAge. Atomic writes leave
// these behind only when the process died mid-write.
//
// Returns the number of files removed and any error encountered.
func CleanupOrphanedTempFiles(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("base directory does not exist, skipping temp cleanup",
			slog.String("path", baseDir),
		)
		return 0, nil
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	err := filepath.WalkDir(baseDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			logger.Warn("skipping unreadable path during temp cleanup",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		name := entry.Name()
		if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".tmp") {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			// A concurrent write may still own this file.
			return nil
		}

		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove orphaned temp file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return nil
		}

		logger.Info("removed orphaned temp file",
			slog.String("path", path),
			slog.Duration("age", time.Since(info.ModTime()).Round(time.Second)),
		)
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}

// RecoverStaleSegments resets segments stuck in "processing" with no
// provider request ID back to "pending". This handles the case where the
// process crashed between claiming a segment and the provider accepting
// the dispatch: the in-memory job is gone, the provider knows nothing,
// and without recovery the segment would stay stuck forever. Pending
// segments are re-adopted by the queue's reconciliation pass.
//
// Segments that do carry a request ID are left alone; their callback may
// still arrive.
func RecoverStaleSegments(ctx context.Context, logger *slog.Logger, segments repository.SegmentRepository) (int, error) {
	stale, err := segments.ListStaleProcessing(ctx)
	if err != nil {
		return 0, err
	}

	var recovered int
	for _, segment := range stale {
		if err := segments.UpdateStatus(ctx, segment.ID, models.SegmentStatusPending); err != nil {
			logger.Warn("failed to recover stale segment",
				slog.String("segment_id", segment.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		logger.Info("recovered stale segment",
			slog.String("segment_id", segment.ID.String()),
			slog.String("task_id", segment.TaskID.String()),
		)
		recovered++
	}
	return recovered, nil
}
