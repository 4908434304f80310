package editor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cutroom/cutroom-agent/internal/faults"
	"github.com/cutroom/cutroom-agent/internal/history"
	"github.com/cutroom/cutroom-agent/internal/metrics"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

type gesture struct {
	label string
	base  timeline.Snapshot
}

// Session is the edit state of one open project. All methods are safe for
// concurrent use; mutations are applied one at a time.
type Session struct {
	projectID string
	store     Store
	idFunc    timeline.IDFunc
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	logger    *slog.Logger

	mu       sync.Mutex
	model    *timeline.Model
	log      *history.Log
	library  []timeline.LibraryClip
	gesture  *gesture
	dirty    bool
	revision int64
}

// State is a read-only view of a session.
type State struct {
	ProjectID string            `json:"projectId"`
	Document  timeline.Document `json:"document"`
	CanUndo   bool              `json:"canUndo"`
	CanRedo   bool              `json:"canRedo"`
	History   int               `json:"history"`
	Gesture   bool              `json:"gesture"`
	Dirty     bool              `json:"dirty"`
	Revision  int64             `json:"revision"`
}

// ProjectID returns the project the session edits.
func (s *Session) ProjectID() string { return s.projectID }

// Snapshot returns the current timeline.
func (s *Session) Snapshot() timeline.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Snapshot()
}

// Document returns the current timeline in persisted form.
func (s *Session) Document() timeline.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document()
}

func (s *Session) document() timeline.Document {
	return timeline.NewDocument(s.model.Snapshot(), s.library)
}

// State returns the document and history flags.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ProjectID: s.projectID,
		Document:  s.document(),
		CanUndo:   s.gesture == nil && s.log.CanUndo(),
		CanRedo:   s.gesture == nil && s.log.CanRedo(),
		History:   s.log.Len(),
		Gesture:   s.gesture != nil,
		Dirty:     s.dirty,
		Revision:  s.revision,
	}
}

// Apply runs one command. Outside a gesture the result becomes one history
// entry and is saved; inside a gesture only the live state changes.
func (s *Session) Apply(ctx context.Context, cmd Command) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "editor.Apply", trace.WithAttributes(
		attribute.String("project_id", s.projectID),
		attribute.String("op", string(cmd.Op)),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := apply(ctx, s.model, cmd, s.store, s.known())
	s.record(span, cmd.Op, err)
	if err != nil {
		return Result{}, err
	}
	s.addLibrary(res.added)

	if s.gesture == nil {
		s.commit(ctx, cmd.Label())
	}
	return res, nil
}

// ApplyBatch runs cmds as one edit. Every command runs against a scratch
// copy of the timeline; the first failure rejects the whole batch and leaves
// the session unchanged. Success records exactly one history entry.
func (s *Session) ApplyBatch(ctx context.Context, label string, cmds []Command) ([]Result, error) {
	ctx, span := s.tracer.Start(ctx, "editor.ApplyBatch", trace.WithAttributes(
		attribute.String("project_id", s.projectID),
		attribute.Int("commands", len(cmds)),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gesture != nil {
		return nil, ErrGestureActive
	}
	if len(cmds) == 0 {
		return nil, faults.Validation("apply batch", "no commands")
	}

	scratch := timeline.NewModel(timeline.WithSnapshot(s.model.Snapshot()), timeline.WithIDFunc(s.idFunc))
	known := s.known()
	results := make([]Result, 0, len(cmds))
	var added []timeline.LibraryClip
	for i, cmd := range cmds {
		res, err := apply(ctx, scratch, cmd, s.store, known)
		s.record(span, cmd.Op, err)
		if err != nil {
			return nil, &BatchError{Index: i, Err: err}
		}
		for _, lc := range res.added {
			known[lc.ID] = lc
		}
		added = append(added, res.added...)
		results = append(results, res)
	}

	s.model.Restore(scratch.Snapshot())
	s.addLibrary(added)
	if label == "" {
		label = "batch"
	}
	s.commit(ctx, label)
	return results, nil
}

// BeginGesture starts a continuous interaction such as a drag. Commands
// applied until EndGesture change the live state without history entries.
func (s *Session) BeginGesture(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gesture != nil {
		return ErrGestureActive
	}
	if label == "" {
		label = "gesture"
	}
	s.gesture = &gesture{label: label, base: s.model.Snapshot()}
	return nil
}

// EndGesture records the gesture's final state as one history entry. It
// reports false when the gesture changed nothing.
func (s *Session) EndGesture(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gesture == nil {
		return false, ErrNoGesture
	}
	label := s.gesture.label
	s.gesture = nil
	return s.commit(ctx, label), nil
}

// CancelGesture restores the state from before BeginGesture.
func (s *Session) CancelGesture() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gesture == nil {
		return ErrNoGesture
	}
	s.model.Restore(s.gesture.base)
	s.gesture = nil
	return nil
}

// Undo restores the previous history entry.
func (s *Session) Undo(ctx context.Context) (timeline.Snapshot, error) {
	return s.step(ctx, "undo", s.log.Undo)
}

// Redo restores the next history entry.
func (s *Session) Redo(ctx context.Context) (timeline.Snapshot, error) {
	return s.step(ctx, "redo", s.log.Redo)
}

func (s *Session) step(ctx context.Context, op string, move func() (timeline.Snapshot, error)) (timeline.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gesture != nil {
		return timeline.Snapshot{}, ErrGestureActive
	}
	snap, err := move()
	if err != nil {
		s.metrics.Edit(op, metrics.ResultRejected)
		return timeline.Snapshot{}, err
	}
	s.model.Restore(snap)
	s.metrics.Edit(op, metrics.ResultOK)
	s.persist(ctx)
	return snap, nil
}

// Flush saves the session if an earlier save failed.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.persist(ctx)
}

// commit pushes the current state and saves it. It reports whether a new
// history entry was recorded.
func (s *Session) commit(ctx context.Context, label string) bool {
	pushed := s.log.Push(label, s.model.Snapshot())
	s.metrics.HistoryDepth(s.projectID, s.log.Len())
	if pushed {
		s.persist(ctx)
	}
	return pushed
}

// persist saves the document and history. A failed save is logged and
// retried by the next commit or Flush; the in-memory state stays current.
func (s *Session) persist(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	p, _, err := s.store.SaveDocument(ctx, s.projectID, s.document())
	if err == nil {
		s.revision = p.Revision
		err = s.store.SaveHistory(ctx, s.projectID, s.log)
	}
	if err != nil {
		s.dirty = true
		s.logger.Warn("failed to save project", "error", err)
		return err
	}
	s.dirty = false
	return nil
}

func (s *Session) record(span trace.Span, op Op, err error) {
	switch {
	case err == nil:
		s.metrics.Edit(string(op), metrics.ResultOK)
	case errors.Is(err, faults.ErrValidation):
		s.metrics.Edit(string(op), metrics.ResultRejected)
		span.RecordError(err)
	default:
		s.metrics.Edit(string(op), metrics.ResultError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "edit failed")
	}
}

func (s *Session) known() map[string]timeline.LibraryClip {
	known := make(map[string]timeline.LibraryClip, 2*len(s.library))
	for _, lc := range s.library {
		known[lc.ID] = lc
		if lc.Path != "" {
			known[lc.Path] = lc
		}
	}
	return known
}

func (s *Session) addLibrary(entries []timeline.LibraryClip) {
	for _, lc := range entries {
		dup := false
		for _, have := range s.library {
			if have.ID == lc.ID {
				dup = true
				break
			}
		}
		if !dup {
			s.library = append(s.library, lc)
		}
	}
}
