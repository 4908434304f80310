package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/execution"
	"github.com/cutroom/cutroom-agent/internal/logging"
	"github.com/cutroom/cutroom-agent/internal/metrics"
	"github.com/cutroom/cutroom-agent/internal/rendergraph"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

const subscriberBuffer = 16

// Projects loads stored documents and resolves their media.
type Projects interface {
	LoadDocument(ctx context.Context, id string) (*catalog.Project, timeline.Document, error)
	Sources(ctx context.Context, doc timeline.Document) (rendergraph.SourceMap, error)
}

type Compiler interface {
	Compile(ctx context.Context, req rendergraph.Request) (*rendergraph.Graph, error)
}

type Doctor interface {
	Get(ctx context.Context) (*execution.Capabilities, error)
}

// Config wires the optional parts of a Service.
type Config struct {
	ExportsDir string // used when a request names no output dir
	LockPath   string // empty disables the cross-process lock
	Doctor     Doctor
	Metrics    *metrics.Metrics
	Tracer     trace.Tracer
	Logger     *slog.Logger
	Notify     func() // called after a job is queued
}

// Service queues exports and runs them one at a time. It implements
// catalog.JobHandler.
type Service struct {
	repo     catalog.Repository
	projects Projects
	compiler Compiler
	executor execution.Executor
	doctor   Doctor
	lockPath string
	exports  string
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	notify   func()

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	subs    map[int]subscriber
	nextSub int
}

type subscriber struct {
	jobID string
	ch    chan Update
}

func NewService(repo catalog.Repository, projects Projects, compiler Compiler, executor execution.Executor, cfg Config) *Service {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("cutroom/export")
	}
	return &Service{
		repo:     repo,
		projects: projects,
		compiler: compiler,
		executor: executor,
		doctor:   cfg.Doctor,
		lockPath: cfg.LockPath,
		exports:  cfg.ExportsDir,
		metrics:  cfg.Metrics,
		tracer:   tracer,
		logger:   logging.WithComponent(logging.Discard(cfg.Logger), "export"),
		notify:   cfg.Notify,
		cancels:  make(map[string]context.CancelFunc),
		subs:     make(map[int]subscriber),
	}
}

// Compile builds the render graph of a project's stored timeline.
func (s *Service) Compile(ctx context.Context, projectID string, opts rendergraph.Options) (*rendergraph.Graph, error) {
	_, doc, err := s.projects.LoadDocument(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return s.compile(ctx, doc, opts)
}

// CompileDocument builds the render graph of an unsaved document.
func (s *Service) CompileDocument(ctx context.Context, doc timeline.Document, opts rendergraph.Options) (*rendergraph.Graph, error) {
	return s.compile(ctx, doc, opts)
}

func (s *Service) compile(ctx context.Context, doc timeline.Document, opts rendergraph.Options) (*rendergraph.Graph, error) {
	snap, err := doc.Snapshot()
	if err != nil {
		return nil, err
	}
	sources, err := s.projects.Sources(ctx, doc)
	if err != nil {
		return nil, err
	}
	g, err := s.compiler.Compile(ctx, rendergraph.Request{Clips: snap.All(), Options: opts, Sources: sources})
	if err != nil {
		s.metrics.Compilation(metrics.ResultError)
		return nil, err
	}
	s.metrics.Compilation(metrics.ResultOK)
	return g, nil
}

// Submit checks that the project compiles and queues an export of its
// current revision.
func (s *Service) Submit(ctx context.Context, projectID string, req Request) (*catalog.Job, error) {
	p, doc, err := s.projects.LoadDocument(ctx, projectID)
	if err != nil {
		return nil, err
	}

	dir := req.OutputDir
	if dir == "" {
		dir = s.exports
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create exports dir: %w", err)
		}
	}
	if err := ValidateOutputDir(dir); err != nil {
		return nil, err
	}

	g, err := s.compile(ctx, doc, req.Options)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &catalog.Job{
		ID:         catalog.NewID(),
		ProjectID:  projectID,
		Status:     catalog.JobStatusPending,
		OutputPath: OutputPath(dir, req.FileName, p.Name),
		Options:    req.Options,
		Revision:   p.Revision,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("export queued",
		"job_id", job.ID,
		"project_id", projectID,
		"revision", p.Revision,
		"output", logging.SanitizePath(job.OutputPath),
	)
	s.broadcast(Update{JobID: job.ID, Status: job.Status, OutputPath: job.OutputPath, Warnings: g.Warnings})
	if s.notify != nil {
		s.notify()
	}
	return job, nil
}

// RunExport renders one pending job. It returns ErrExportBusy, leaving the
// job pending, when another export holds the lock.
func (s *Service) RunExport(ctx context.Context, job *catalog.Job) error {
	log := logging.WithProjectID(logging.WithJobID(s.logger, job.ID), job.ProjectID)
	ctx, span := s.tracer.Start(ctx, "export.Run", trace.WithAttributes(
		attribute.String("job_id", job.ID),
		attribute.String("project_id", job.ProjectID),
	))
	defer span.End()

	if s.lockPath != "" {
		lock := flock.New(s.lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return s.fail(ctx, span, job, time.Time{}, fmt.Sprintf("acquire export lock: %v", err))
		}
		if !locked {
			log.Warn("export lock held elsewhere, job stays queued")
			return ErrExportBusy
		}
		defer lock.Unlock()
	}

	// The job may have been cancelled while it waited.
	current, err := s.repo.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	if current == nil || current.Status != catalog.JobStatusPending {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancels[job.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, job.ID)
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := s.repo.UpdateJobStatus(ctx, job.ID, catalog.JobStatusRunning, ""); err != nil {
		return err
	}
	s.broadcast(Update{JobID: job.ID, Status: catalog.JobStatusRunning, OutputPath: job.OutputPath})

	p, doc, err := s.projects.LoadDocument(runCtx, job.ProjectID)
	if err != nil {
		return s.fail(ctx, span, job, start, err.Error())
	}
	if p.Revision != job.Revision {
		log.Info("project changed since export was queued", "queued_revision", job.Revision, "revision", p.Revision)
	}

	g, err := s.compile(runCtx, doc, job.Options)
	if err != nil {
		return s.fail(ctx, span, job, start, err.Error())
	}
	for _, w := range g.Warnings {
		log.Warn("render graph warning", "warning", w)
	}

	if s.doctor != nil {
		caps, err := s.doctor.Get(runCtx)
		if err != nil {
			return s.fail(ctx, span, job, start, fmt.Sprintf("ffmpeg unavailable: %v", err))
		}
		if !caps.Ready() {
			missing := append(append([]string{}, caps.MissingEncoders...), caps.MissingFilters...)
			sort.Strings(missing)
			return s.fail(ctx, span, job, start, "ffmpeg is missing "+strings.Join(missing, ", "))
		}
	}

	events, err := s.executor.Execute(runCtx, g, job.OutputPath)
	if err != nil {
		return s.fail(ctx, span, job, start, err.Error())
	}

	lastPercent := -1
	var final execution.Event
	for ev := range events {
		switch ev.Type {
		case execution.EventProgress:
			percent := int(ev.Percent)
			if percent == lastPercent {
				continue
			}
			lastPercent = percent
			if err := s.repo.UpdateJobProgress(ctx, job.ID, percent); err != nil {
				log.Warn("failed to record progress", "error", err)
			}
			s.broadcast(Update{JobID: job.ID, Status: catalog.JobStatusRunning, Percent: ev.Percent})
		default:
			final = ev
		}
	}

	switch {
	case final.Type == execution.EventSuccess:
		return s.complete(ctx, span, job, start, final.OutputPath)
	case runCtx.Err() != nil && ctx.Err() == nil:
		return s.finish(ctx, span, job, start, catalog.JobStatusCancelled, "export cancelled")
	case final.Message == "":
		return s.fail(ctx, span, job, start, "ffmpeg ended without a result")
	default:
		return s.fail(ctx, span, job, start, final.Message)
	}
}

func (s *Service) complete(ctx context.Context, span trace.Span, job *catalog.Job, start time.Time, output string) error {
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.UpdateJobProgress(ctx, job.ID, 100); err != nil {
		s.logger.Warn("failed to record progress", "job_id", job.ID, "error", err)
	}
	return s.finish(ctx, span, job, start, catalog.JobStatusCompleted, output)
}

func (s *Service) fail(ctx context.Context, span trace.Span, job *catalog.Job, start time.Time, msg string) error {
	return s.finish(ctx, span, job, start, catalog.JobStatusFailed, msg)
}

// finish records a terminal status. detail is the output path for completed
// jobs and the error message otherwise.
func (s *Service) finish(ctx context.Context, span trace.Span, job *catalog.Job, start time.Time, status, detail string) error {
	ctx = context.WithoutCancel(ctx)
	elapsed := time.Duration(0)
	if !start.IsZero() {
		elapsed = time.Since(start)
	}

	errMsg := detail
	update := Update{JobID: job.ID, Status: status, Message: detail}
	result := metrics.ResultError
	switch status {
	case catalog.JobStatusCompleted:
		errMsg = ""
		update = Update{JobID: job.ID, Status: status, Percent: 100, OutputPath: detail}
		result = metrics.ResultOK
	case catalog.JobStatusCancelled:
		result = metrics.ResultCancelled
	}

	if err := s.repo.UpdateJobStatus(ctx, job.ID, status, errMsg); err != nil {
		s.logger.Error("failed to record export status", "job_id", job.ID, "status", status, "error", err)
	}
	s.metrics.Export(result, elapsed)
	s.broadcast(update)

	log := logging.WithJobID(s.logger, job.ID)
	switch status {
	case catalog.JobStatusCompleted:
		log.Info("export completed", "output", logging.SanitizePath(detail), "duration_ms", elapsed.Milliseconds())
		return nil
	case catalog.JobStatusCancelled:
		log.Info("export cancelled", "duration_ms", elapsed.Milliseconds())
		return nil
	}
	span.SetStatus(codes.Error, detail)
	log.Error("export failed", "error", detail)
	return errors.New(detail)
}

// Cancel stops a running job or withdraws a pending one.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.Job(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Finished() {
		return fmt.Errorf("job %s: %w", jobID, ErrJobFinished)
	}

	s.mu.Lock()
	cancel, running := s.cancels[jobID]
	s.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	if err := s.repo.UpdateJobStatus(ctx, jobID, catalog.JobStatusCancelled, "cancelled before start"); err != nil {
		return err
	}
	s.broadcast(Update{JobID: jobID, Status: catalog.JobStatusCancelled, Message: "cancelled before start"})
	return nil
}

func (s *Service) Job(ctx context.Context, jobID string) (*catalog.Job, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, catalog.ErrNotFound)
	}
	return job, nil
}

func (s *Service) List(ctx context.Context, limit int) ([]*catalog.Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

// Running reports whether this process is rendering a job.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels) > 0
}

// EDL renders the main track of a project as a CMX 3600 edit decision list.
func (s *Service) EDL(ctx context.Context, projectID string, frameRate float64) (string, error) {
	p, doc, err := s.projects.LoadDocument(ctx, projectID)
	if err != nil {
		return "", err
	}
	snap, err := doc.Snapshot()
	if err != nil {
		return "", err
	}
	sources, err := s.projects.Sources(ctx, doc)
	if err != nil {
		return "", err
	}
	return GenerateEDL(EDLClips(snap, sources), p.Name, frameRate), nil
}

// Subscribe streams updates for jobID, or for every job when jobID is empty.
// Progress updates are dropped for subscribers that fall behind; the final
// status of a job is always delivered. The returned func ends the
// subscription.
func (s *Service) Subscribe(jobID string) (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = subscriber{jobID: jobID, ch: ch}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) broadcast(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.jobID != "" && sub.jobID != u.JobID {
			continue
		}
		if (&catalog.Job{Status: u.Status}).Finished() {
			deliver(sub.ch, u)
			continue
		}
		select {
		case sub.ch <- u:
		default:
		}
	}
}

// deliver sends u, evicting the oldest queued updates until it fits.
func deliver(ch chan Update, u Update) {
	for {
		select {
		case ch <- u:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
