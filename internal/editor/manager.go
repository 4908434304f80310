package editor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/history"
	"github.com/cutroom/cutroom-agent/internal/logging"
	"github.com/cutroom/cutroom-agent/internal/metrics"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// Store loads and saves projects. *catalog.Service implements it.
type Store interface {
	AssetLookup
	LoadDocument(ctx context.Context, id string) (*catalog.Project, timeline.Document, error)
	SaveDocument(ctx context.Context, id string, doc timeline.Document) (*catalog.Project, bool, error)
	LoadHistory(ctx context.Context, projectID string, capacity int) (*history.Log, error)
	SaveHistory(ctx context.Context, projectID string, log *history.Log) error
}

// Manager keeps one session per open project, loading sessions lazily.
type Manager struct {
	store    Store
	capacity int
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	idFunc   timeline.IDFunc
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHistorySize sets the undo capacity of new sessions.
func WithHistorySize(n int) ManagerOption {
	return func(m *Manager) { m.capacity = n }
}

func WithMetrics(mt *metrics.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = mt }
}

func WithTracer(t trace.Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = t }
}

// WithIDFunc overrides clip and overlay id generation.
func WithIDFunc(fn timeline.IDFunc) ManagerOption {
	return func(m *Manager) { m.idFunc = fn }
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		capacity: history.MaxCapacity,
		tracer:   otel.Tracer("cutroom/editor"),
		idFunc:   timeline.NewID,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.WithComponent(logging.Discard(m.logger), "editor")
	return m
}

// Open returns the session for projectID, loading it on first use.
func (m *Manager) Open(ctx context.Context, projectID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[projectID]; ok {
		return s, nil
	}
	s, err := m.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	m.sessions[projectID] = s
	return s, nil
}

func (m *Manager) load(ctx context.Context, projectID string) (*Session, error) {
	log := logging.WithProjectID(m.logger, projectID)

	p, doc, err := m.store.LoadDocument(ctx, projectID)
	if err != nil {
		return nil, err
	}
	snap, err := doc.Snapshot()
	if err != nil {
		return nil, err
	}
	if drifted := doc.Drift(snap); len(drifted) > 0 {
		log.Warn("stored start times differ from layout; using recomputed layout", "clips", drifted)
	}

	hist, err := m.store.LoadHistory(ctx, projectID, m.capacity)
	if err != nil {
		log.Warn("discarding unreadable history", "error", err)
		hist = nil
	}
	if hist != nil && !hist.Current().Snapshot.Equal(snap) {
		log.Warn("history does not match saved timeline; starting fresh history")
		hist = nil
	}
	if hist == nil {
		hist = history.New(m.capacity, snap)
	}

	s := &Session{
		projectID: projectID,
		store:     m.store,
		idFunc:    m.idFunc,
		metrics:   m.metrics,
		tracer:    m.tracer,
		logger:    log,
		model:     timeline.NewModel(timeline.WithSnapshot(snap), timeline.WithIDFunc(m.idFunc)),
		log:       hist,
		library:   append([]timeline.LibraryClip(nil), doc.LibraryClips...),
		revision:  p.Revision,
	}
	m.metrics.HistoryDepth(projectID, hist.Len())
	log.Info("session opened", "clips", len(doc.TimelineClips), "history", hist.Len())
	return s, nil
}

// Close flushes and drops the session for projectID.
func (m *Manager) Close(ctx context.Context, projectID string) error {
	m.mu.Lock()
	s, ok := m.sessions[projectID]
	delete(m.sessions, projectID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	m.metrics.ForgetProject(projectID)
	return s.Flush(ctx)
}

// Forget drops a session without saving, e.g. after the project was deleted.
func (m *Manager) Forget(projectID string) {
	m.mu.Lock()
	delete(m.sessions, projectID)
	m.mu.Unlock()
	m.metrics.ForgetProject(projectID)
}

// CloseAll flushes every open session.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		m.metrics.ForgetProject(id)
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OpenCount returns the number of loaded sessions.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
