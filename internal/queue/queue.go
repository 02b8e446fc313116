// Package queue schedules pending segments for dispatch to the transcription
// provider. Jobs are transient in-memory bookkeeping; the segment rows in the
// store remain the durable truth, and reconciliation realigns the two before
// every pump so the queue survives stateless re-invocation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/transcribebridge/transcribebridge/internal/models"
	"github.com/transcribebridge/transcribebridge/internal/provider"
	"github.com/transcribebridge/transcribebridge/internal/repository"
	"github.com/transcribebridge/transcribebridge/internal/storage"
)

// Default queue tuning.
const (
	DefaultMaxConcurrent     = 8
	DefaultMaxAttempts       = 3
	DefaultBaseDelay         = 1 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxDelay          = 30 * time.Second
)

// ErrSegmentNotPending is returned when enqueueing a segment that is no
// longer pending in the store.
var ErrSegmentNotPending = errors.New("segment is not pending")

// Config holds the queue's tuning knobs.
type Config struct {
	// MaxConcurrent caps the number of jobs in flight at once.
	MaxConcurrent int
	// MaxAttempts is the whole-attempt budget per job.
	MaxAttempts int
	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration
	// BackoffMultiplier grows the delay per attempt.
	BackoffMultiplier float64
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultConfig returns the default queue tuning.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     DefaultMaxConcurrent,
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxDelay:          DefaultMaxDelay,
	}
}

// JobStatus tracks a job through its lifecycle.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// IsTerminal returns true for completed and failed jobs.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the in-memory scheduling handle for one segment. Jobs never outlive
// the process; on any discrepancy with the segment row the store wins.
type Job struct {
	ID          string
	SegmentID   models.ULID
	TaskID      models.ULID
	Priority    int
	Status      JobStatus
	Attempts    int
	ScheduledAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string

	// seq breaks ordering ties so dispatch selection stays stable.
	seq uint64
}

// SegmentDispatcher sends segment audio to the transcription provider.
// Satisfied by *provider.Client.
type SegmentDispatcher interface {
	Dispatch(ctx context.Context, audio io.Reader, filename string) (*provider.DispatchResult, error)
}

// CompletionNotifier is invoked whenever a segment reaches a terminal status
// through the queue (inline transcript or final failure). Satisfied by the
// completion coordinator.
type CompletionNotifier interface {
	CheckTaskCompletion(ctx context.Context, taskID models.ULID) error
}

// PumpResult reports what a ForceProcess pass did.
type PumpResult struct {
	Processed int `json:"processed"`
	Remaining int `json:"remaining"`
}

// Stats is a point-in-time snapshot of the queue.
type Stats struct {
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Retrying   int    `json:"retrying"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
	Config     Config `json:"config"`
}

// Queue turns pending segments into terminal segments under a concurrency
// cap, with bounded retries and exponential backoff.
type Queue struct {
	mu         sync.Mutex
	jobs       map[string]*Job
	processing int
	seq        uint64

	cfg        Config
	segments   repository.SegmentRepository
	blobs      storage.BlobStore
	dispatcher SegmentDispatcher
	notifier   CompletionNotifier
	logger     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// New creates a queue. A zero-valued field in cfg falls back to its default.
func New(cfg Config, segments repository.SegmentRepository, blobs storage.BlobStore, dispatcher SegmentDispatcher, notifier CompletionNotifier, logger *slog.Logger) *Queue {
	applyDefaults(&cfg)
	return &Queue{
		jobs:       make(map[string]*Job),
		cfg:        cfg,
		segments:   segments,
		blobs:      blobs,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

func applyDefaults(cfg *Config) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.BackoffMultiplier <= 0 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
}

// EnqueueSegment creates a job for one pending segment. Enqueueing a segment
// that is no longer pending is rejected; a stale job created by a racing
// caller is harmless because reconciliation discards it.
func (q *Queue) EnqueueSegment(ctx context.Context, segment *models.Segment, priority int) (string, error) {
	if segment.Status != models.SegmentStatusPending {
		return "", fmt.Errorf("enqueueing segment %s: %w (status %s)", segment.ID, ErrSegmentNotPending, segment.Status)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	job := q.addJobLocked(segment, priority)

	q.logger.Debug("segment enqueued",
		slog.String("job_id", job.ID),
		slog.String("segment_id", segment.ID.String()),
		slog.String("task_id", segment.TaskID.String()),
		slog.Int("priority", priority),
	)
	return job.ID, nil
}

// EnqueueSegments enqueues a task's segments. Priorities are assigned as
// N-index so earlier segments win ties against later ones.
func (q *Queue) EnqueueSegments(ctx context.Context, segments []*models.Segment, taskID models.ULID) error {
	n := len(segments)
	for i, segment := range segments {
		if _, err := q.EnqueueSegment(ctx, segment, n-i); err != nil {
			return err
		}
	}
	q.logger.Info("task segments enqueued",
		slog.String("task_id", taskID.String()),
		slog.Int("count", n),
	)
	return nil
}

// addJobLocked creates and registers a job. Caller holds q.mu.
func (q *Queue) addJobLocked(segment *models.Segment, priority int) *Job {
	now := q.now()
	q.seq++
	job := &Job{
		ID:          uuid.NewString(),
		SegmentID:   segment.ID,
		TaskID:      segment.TaskID,
		Priority:    priority,
		Status:      JobStatusPending,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
		seq:         q.seq,
	}
	q.jobs[job.ID] = job
	return job
}

// ForceProcess is the synchronous pump: reconcile against the store, then
// dispatch up to maxJobs due jobs within the free concurrency slots and wait
// for them. maxJobs <= 0 means "as many as the slots allow". Safe to call
// from a ticker or an external cron-style trigger.
func (q *Queue) ForceProcess(ctx context.Context, maxJobs int) (PumpResult, error) {
	if err := q.reconcile(ctx); err != nil {
		return PumpResult{}, fmt.Errorf("reconciling queue: %w", err)
	}

	batch := q.claimDue(maxJobs)

	var wg sync.WaitGroup
	for _, job := range batch {
		wg.Add(1)
		go func(job *Job) {
			defer wg.Done()
			q.runJob(ctx, job)
		}(job)
	}
	wg.Wait()

	q.mu.Lock()
	remaining := 0
	now := q.now()
	for _, job := range q.jobs {
		if q.isDueLocked(job, now) {
			remaining++
		}
	}
	q.mu.Unlock()

	return PumpResult{Processed: len(batch), Remaining: remaining}, nil
}

// claimDue selects due jobs by (priority DESC, scheduledAt ASC, seq ASC) up
// to the free slot count and marks them processing.
func (q *Queue) claimDue(maxJobs int) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	// Promote retrying jobs whose backoff has elapsed.
	for _, job := range q.jobs {
		if job.Status == JobStatusRetrying && !job.ScheduledAt.After(now) {
			job.Status = JobStatusPending
			job.UpdatedAt = now
		}
	}

	slots := q.cfg.MaxConcurrent - q.processing
	if slots <= 0 {
		return nil
	}
	if maxJobs > 0 && maxJobs < slots {
		slots = maxJobs
	}

	var due []*Job
	for _, job := range q.jobs {
		if job.Status == JobStatusPending && !job.ScheduledAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return a.seq < b.seq
	})

	if len(due) > slots {
		due = due[:slots]
	}
	for _, job := range due {
		job.Status = JobStatusProcessing
		job.Attempts++
		job.UpdatedAt = now
		q.processing++
	}
	return due
}

// isDueLocked reports whether a job is waiting for a slot. Caller holds q.mu.
func (q *Queue) isDueLocked(job *Job, now time.Time) bool {
	switch job.Status {
	case JobStatusPending:
		return !job.ScheduledAt.After(now)
	case JobStatusRetrying:
		return !job.ScheduledAt.After(now)
	default:
		return false
	}
}

// reconcile realigns jobs with the store: jobs whose segment already reached
// a terminal status are discarded (the store wins), and store-pending
// segments without a job get one, prioritized by start time (earlier first).
func (q *Queue) reconcile(ctx context.Context) error {
	q.mu.Lock()
	tracked := make(map[models.ULID]*Job, len(q.jobs))
	var open []*Job
	for _, job := range q.jobs {
		tracked[job.SegmentID] = job
		// Processing jobs belong to a running goroutine; it alone settles
		// them and releases the concurrency slot.
		if job.Status == JobStatusPending || job.Status == JobStatusRetrying {
			open = append(open, job)
		}
	}
	q.mu.Unlock()

	for _, job := range open {
		segment, err := q.segments.GetByID(ctx, job.SegmentID)
		if err != nil {
			return err
		}
		if segment == nil || segment.IsTerminal() {
			q.mu.Lock()
			job.Status = JobStatusCompleted
			if segment != nil && segment.Status == models.SegmentStatusFailed {
				job.Status = JobStatusFailed
			}
			job.UpdatedAt = q.now()
			q.mu.Unlock()

			q.logger.Debug("job evicted, store already terminal",
				slog.String("job_id", job.ID),
				slog.String("segment_id", job.SegmentID.String()),
			)
		}
	}

	pending, err := q.segments.ListPending(ctx)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, segment := range pending {
		if job, ok := tracked[segment.ID]; ok && !job.Status.IsTerminal() {
			continue
		}
		// Earlier start means higher priority.
		q.addJobLocked(segment, -int(segment.StartSeconds))
		q.logger.Debug("adopted orphan pending segment",
			slog.String("segment_id", segment.ID.String()),
			slog.String("task_id", segment.TaskID.String()),
		)
	}
	return nil
}

// runJob performs one attempt: mark the segment processing, fetch its audio,
// dispatch to the provider, and record the outcome.
func (q *Queue) runJob(ctx context.Context, job *Job) {
	logger := q.logger.With(
		slog.String("job_id", job.ID),
		slog.String("segment_id", job.SegmentID.String()),
		slog.String("task_id", job.TaskID.String()),
		slog.Int("attempt", job.Attempts),
	)

	segment, err := q.segments.GetByID(ctx, job.SegmentID)
	if err != nil {
		q.handleFailure(ctx, job, nil, err, logger)
		return
	}
	if segment == nil {
		q.finishJob(job, JobStatusFailed, "segment missing from store")
		return
	}
	if segment.IsTerminal() {
		// Lost a race with the inbound webhook; the store wins.
		q.finishJob(job, JobStatusCompleted, "")
		return
	}

	if err := q.segments.UpdateStatus(ctx, segment.ID, models.SegmentStatusProcessing); err != nil {
		q.handleFailure(ctx, job, segment, err, logger)
		return
	}
	// Keep the local struct in step with the store; the async-path save
	// below must not write the stale pending status back.
	segment.Status = models.SegmentStatusProcessing

	audio, err := q.blobs.Open(segment.BlobPath)
	if err != nil {
		q.handleFailure(ctx, job, segment, fmt.Errorf("fetching segment audio: %w", err), logger)
		return
	}
	defer audio.Close()

	result, err := q.dispatcher.Dispatch(ctx, audio, path.Base(segment.BlobPath))
	if err != nil {
		q.handleFailure(ctx, job, segment, err, logger)
		return
	}

	if result.Async() {
		segment.ProviderRequestID = result.RequestID
		if err := q.segments.Update(ctx, segment); err != nil {
			q.handleFailure(ctx, job, segment, err, logger)
			return
		}
		q.finishJob(job, JobStatusCompleted, "")
		logger.Info("segment dispatched, awaiting callback",
			slog.String("provider_request_id", result.RequestID),
		)
		return
	}

	// Inline transcript: the segment is done without a callback.
	segment.MarkCompleted(result.Text, result.LanguageCode)
	if err := q.segments.Update(ctx, segment); err != nil {
		q.handleFailure(ctx, job, segment, err, logger)
		return
	}
	q.finishJob(job, JobStatusCompleted, "")
	logger.Info("segment transcribed inline")

	if err := q.notifier.CheckTaskCompletion(ctx, job.TaskID); err != nil {
		logger.Error("completion check failed", slog.String("error", err.Error()))
	}
}

// handleFailure classifies an attempt failure and either schedules a retry
// or marks the segment failed for good.
func (q *Queue) handleFailure(ctx context.Context, job *Job, segment *models.Segment, cause error, logger *slog.Logger) {
	retryable := models.IsRetryableError(cause)

	if retryable && job.Attempts < q.cfg.MaxAttempts {
		delay := q.backoffDelay(job.Attempts)

		q.mu.Lock()
		q.processing--
		job.Status = JobStatusRetrying
		job.ScheduledAt = q.now().Add(delay)
		job.LastError = cause.Error()
		job.UpdatedAt = q.now()
		q.mu.Unlock()

		// Reset the segment so reconciliation re-picks it even if this
		// process never wakes again.
		if segment != nil {
			if err := q.segments.UpdateStatus(ctx, segment.ID, models.SegmentStatusPending); err != nil {
				logger.Error("resetting segment for retry failed", slog.String("error", err.Error()))
			}
		}

		logger.Warn("segment dispatch failed, retry scheduled",
			slog.String("error", cause.Error()),
			slog.Duration("delay", delay),
			slog.String("category", string(models.ErrorCategoryOf(cause))),
		)
		return
	}

	q.finishJob(job, JobStatusFailed, cause.Error())

	if segment != nil {
		segment.MarkFailed(cause.Error())
		if err := q.segments.Update(ctx, segment); err != nil {
			logger.Error("marking segment failed errored", slog.String("error", err.Error()))
		}
	}

	logger.Error("segment failed permanently",
		slog.String("error", cause.Error()),
		slog.Bool("retryable", retryable),
		slog.Int("attempts", job.Attempts),
	)

	if err := q.notifier.CheckTaskCompletion(ctx, job.TaskID); err != nil {
		logger.Error("completion check failed", slog.String("error", err.Error()))
	}
}

// finishJob moves a processing job to a terminal status.
func (q *Queue) finishJob(job *Job, status JobStatus, lastError string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing--
	job.Status = status
	job.LastError = lastError
	job.UpdatedAt = q.now()
}

// backoffDelay computes the delay after a failed attempt k (1-based):
// min(baseDelay x multiplier^(k-1), maxDelay).
func (q *Queue) backoffDelay(attempt int) time.Duration {
	delay := time.Duration(float64(q.cfg.BaseDelay) * math.Pow(q.cfg.BackoffMultiplier, float64(attempt-1)))
	if delay > q.cfg.MaxDelay {
		delay = q.cfg.MaxDelay
	}
	return delay
}

// CancelTaskJobs marks a task's pending and retrying jobs failed with
// lastError "cancelled". Jobs already processing are left to finish.
func (q *Queue) CancelTaskJobs(taskID models.ULID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	now := q.now()
	for _, job := range q.jobs {
		if job.TaskID != taskID {
			continue
		}
		if job.Status == JobStatusPending || job.Status == JobStatusRetrying {
			job.Status = JobStatusFailed
			job.LastError = "cancelled"
			job.UpdatedAt = now
			count++
		}
	}

	q.logger.Info("task jobs cancelled",
		slog.String("task_id", taskID.String()),
		slog.Int("count", count),
	)
	return count
}

// Stats returns a snapshot of job counts and the active config.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Config: q.cfg}
	for _, job := range q.jobs {
		switch job.Status {
		case JobStatusPending:
			stats.Pending++
		case JobStatusProcessing:
			stats.Processing++
		case JobStatusRetrying:
			stats.Retrying++
		case JobStatusCompleted:
			stats.Completed++
		case JobStatusFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats
}

// Configure applies non-zero overrides to the queue's tuning at runtime.
func (q *Queue) Configure(overrides Config) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if overrides.MaxConcurrent > 0 {
		q.cfg.MaxConcurrent = overrides.MaxConcurrent
	}
	if overrides.MaxAttempts > 0 {
		q.cfg.MaxAttempts = overrides.MaxAttempts
	}
	if overrides.BaseDelay > 0 {
		q.cfg.BaseDelay = overrides.BaseDelay
	}
	if overrides.BackoffMultiplier > 0 {
		q.cfg.BackoffMultiplier = overrides.BackoffMultiplier
	}
	if overrides.MaxDelay > 0 {
		q.cfg.MaxDelay = overrides.MaxDelay
	}

	q.logger.Info("queue reconfigured",
		slog.Int("max_concurrent", q.cfg.MaxConcurrent),
		slog.Int("max_attempts", q.cfg.MaxAttempts),
	)
}

// CleanupOldJobs drops terminal jobs older than the given age and returns
// how many were removed.
func (q *Queue) CleanupOldJobs(olderThan time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-olderThan)
	count := 0
	for id, job := range q.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(q.jobs, id)
			count++
		}
	}
	return count
}

// Job returns a copy of a job for inspection, primarily for tests and stats.
func (q *Queue) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}
