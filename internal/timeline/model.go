package timeline

import (
	"github.com/google/uuid"
)

// IDFunc generates clip and overlay identifiers.
type IDFunc func() string

// NewID returns a random identifier.
func NewID() string {
	return uuid.NewString()
}

// Model is the editable timeline for one session. It holds the current
// snapshot and swaps it only when an operation succeeds. Model is not safe
// for concurrent use; callers serialize mutations.
type Model struct {
	current Snapshot
	newID   IDFunc
}

// Option configures a Model.
type Option func(*Model)

// WithIDFunc overrides identifier generation.
func WithIDFunc(fn IDFunc) Option {
	return func(m *Model) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithSnapshot starts the model from s.
func WithSnapshot(s Snapshot) Option {
	return func(m *Model) { m.current = s }
}

// NewModel creates an empty model.
func NewModel(opts ...Option) *Model {
	m := &Model{newID: NewID}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns the current immutable state.
func (m *Model) Snapshot() Snapshot { return m.current }

// Restore replaces the current state, e.g. after undo.
func (m *Model) Restore(s Snapshot) { m.current = s }

func (m *Model) commit(next Snapshot, err error) (Snapshot, error) {
	if err != nil {
		return m.current, err
	}
	m.current = next
	return next, nil
}

// InsertClip appends or inserts a new clip and returns it.
func (m *Model) InsertClip(track Track, sourceRef string, nativeDuration float64, index int) (Clip, error) {
	id := m.newID()
	if _, err := m.commit(m.current.InsertClip(id, track, sourceRef, nativeDuration, index)); err != nil {
		return Clip{}, err
	}
	c, _, _ := m.current.Find(id)
	return c, nil
}

// TrimClip changes a clip's trim window.
func (m *Model) TrimClip(id string, newIn, newOut *float64) (Clip, error) {
	if _, err := m.commit(m.current.TrimClip(id, newIn, newOut)); err != nil {
		return Clip{}, err
	}
	c, _, _ := m.current.Find(id)
	return c, nil
}

// SplitClip cuts a clip in two and returns both halves.
func (m *Model) SplitClip(id string, local float64) (Clip, Clip, error) {
	firstID, secondID := m.newID(), m.newID()
	if _, err := m.commit(m.current.SplitClip(id, local, firstID, secondID)); err != nil {
		return Clip{}, Clip{}, err
	}
	first, _, _ := m.current.Find(firstID)
	second, _, _ := m.current.Find(secondID)
	return first, second, nil
}

// ReorderClip moves a clip within its track.
func (m *Model) ReorderClip(id string, target int) error {
	_, err := m.commit(m.current.ReorderClip(id, target))
	return err
}

// DeleteClip removes a clip.
func (m *Model) DeleteClip(id string) error {
	_, err := m.commit(m.current.DeleteClip(id))
	return err
}

// SetMute sets a clip's muted flag.
func (m *Model) SetMute(id string, muted bool) error {
	_, err := m.commit(m.current.SetMute(id, muted))
	return err
}

// SetFilter assigns or clears a clip's filter.
func (m *Model) SetFilter(id, name string) error {
	_, err := m.commit(m.current.SetFilter(id, name))
	return err
}

// SetOverlays replaces a clip's overlays, assigning ids to overlays that
// have none.
func (m *Model) SetOverlays(id string, overlays []Overlay) error {
	withIDs := make([]Overlay, len(overlays))
	for i, o := range overlays {
		if o.ID == "" {
			o.ID = m.newID()
		}
		withIDs[i] = o
	}
	_, err := m.commit(m.current.SetOverlays(id, withIDs))
	return err
}

// SetGeometry places an overlay-track clip.
func (m *Model) SetGeometry(id string, pos *Position, size *Size) error {
	_, err := m.commit(m.current.SetGeometry(id, pos, size))
	return err
}
