// Package scheduler drives the background loops: the queue pump and the
// periodic cleanup sweep.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/transcribebridge/transcribebridge/internal/queue"
	"github.com/transcribebridge/transcribebridge/internal/service"
)

// Pumper is the slice of the segment queue the pump loop needs.
// Satisfied by *queue.Queue.
type Pumper interface {
	ForceProcess(ctx context.Context, maxJobs int) (queue.PumpResult, error)
}

// PumpRunner drives the segment queue on a fixed interval. External
// schedulers can still hit the pump endpoint; the runner just removes
// the dependency on them for single-node deployments.
type PumpRunner struct {
	mu sync.Mutex

	pumper   Pumper
	interval time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPumpRunner creates a new pump runner.
func NewPumpRunner(pumper Pumper, interval time.Duration) *PumpRunner {
	return &PumpRunner{
		pumper:   pumper,
		interval: interval,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (r *PumpRunner) WithLogger(logger *slog.Logger) *PumpRunner {
	r.logger = logger
	return r
}

// Start begins the pump loop.
func (r *PumpRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("pump runner already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop()

	r.logger.Info("pump runner started",
		slog.Duration("interval", r.interval))
	return nil
}

// Stop stops the pump loop and waits for an in-flight pass to finish.
func (r *PumpRunner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("pump runner stopped")
}

func (r *PumpRunner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			result, err := r.pumper.ForceProcess(r.ctx, 0)
			if err != nil {
				r.logger.Error("pump pass failed",
					slog.String("error", err.Error()))
				continue
			}
			if result.Processed > 0 {
				r.logger.Debug("pump pass finished",
					slog.Int("processed", result.Processed),
					slog.Int("remaining", result.Remaining))
			}
		}
	}
}

// Sweeper is the slice of the cleanup service the sweep loop needs.
// Satisfied by *service.CleanupService.
type Sweeper interface {
	CleanupExpired(ctx context.Context) (*service.SweepResult, error)
}

// CleanupRunner runs the expiry sweep on a cron schedule.
type CleanupRunner struct {
	mu sync.Mutex

	sweeper  Sweeper
	schedule cron.Schedule
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCleanupRunner creates a cleanup runner that sweeps every
// intervalHours hours.
func NewCleanupRunner(sweeper Sweeper, intervalHours int) (*CleanupRunner, error) {
	if intervalHours <= 0 {
		return nil, fmt.Errorf("cleanup interval must be positive, got %d", intervalHours)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(fmt.Sprintf("@every %dh", intervalHours))
	if err != nil {
		return nil, fmt.Errorf("parsing cleanup schedule: %w", err)
	}

	return &CleanupRunner{
		sweeper:  sweeper,
		schedule: schedule,
		logger:   slog.Default(),
		now:      time.Now,
	}, nil
}

// WithLogger sets a custom logger.
func (r *CleanupRunner) WithLogger(logger *slog.Logger) *CleanupRunner {
	r.logger = logger
	return r
}

// Start begins the sweep loop.
func (r *CleanupRunner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ctx != nil {
		return fmt.Errorf("cleanup runner already started")
	}

	r.ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop()

	r.logger.Info("cleanup runner started",
		slog.Time("next_sweep", r.schedule.Next(r.now())))
	return nil
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (r *CleanupRunner) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	r.ctx = nil
	r.cancel = nil
	r.mu.Unlock()

	r.logger.Info("cleanup runner stopped")
}

func (r *CleanupRunner) loop() {
	defer r.wg.Done()

	for {
		next := r.schedule.Next(r.now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			result, err := r.sweeper.CleanupExpired(r.ctx)
			if err != nil {
				r.logger.Error("expiry sweep failed",
					slog.String("error", err.Error()))
				continue
			}
			r.logger.Info("scheduled sweep finished",
				slog.Int("tasks_deleted", result.TasksDeleted),
				slog.Int("jobs_deleted", result.JobsDeleted))
		}
	}
}
