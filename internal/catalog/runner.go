package catalog

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cutroom/cutroom-agent/internal/logging"
)

// JobHandler runs one export job to completion, updating its status.
type JobHandler interface {
	RunExport(ctx context.Context, job *Job) error
}

// Runner polls for pending export jobs and hands them to a JobHandler one at
// a time.
type Runner struct {
	repo         Repository
	handler      JobHandler
	logger       *slog.Logger
	pollInterval time.Duration
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
	busy         atomic.Bool
}

func NewRunner(repo Repository, handler JobHandler, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Runner{
		repo:         repo,
		handler:      handler,
		logger:       logging.WithComponent(logging.Discard(logger), "runner"),
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
	}
}

// Start blocks, processing jobs until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started", "poll_interval", r.pollInterval)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if !r.paused.Load() {
			for r.processNextJob(ctx) {
				if ctx.Err() != nil || r.paused.Load() {
					break
				}
			}
		}
	}
}

// Notify asks the runner to look for work now instead of at the next tick.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
	r.Notify()
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Busy reports whether a job is executing right now.
func (r *Runner) Busy() bool {
	return r.busy.Load()
}

// processNextJob runs the oldest pending job and reports whether another
// one should be tried right away.
func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}

	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	log := logging.WithJobID(r.logger, job.ID)
	log.Info("processing export", "project_id", job.ProjectID)

	if r.handler == nil {
		r.repo.UpdateJobStatus(ctx, job.ID, JobStatusFailed, "export handler not configured")
		return true
	}

	r.busy.Store(true)
	defer r.busy.Store(false)
	if err := r.handler.RunExport(ctx, job); err != nil {
		log.Error("export failed", "error", err)
		return false
	}
	return true
}

func (r *Runner) GetActiveJobCount(ctx context.Context) int {
	jobs, err := r.repo.ListJobs(ctx, 100)
	if err != nil {
		return 0
	}
	count := 0
	for _, j := range jobs {
		if j.Status == JobStatusRunning {
			count++
		}
	}
	return count
}
