package timeline

import (
	"fmt"
	"sort"

	"github.com/cutroom/cutroom-agent/internal/faults"
)

// Snapshot is an immutable timeline state. Every edit operation returns a new
// Snapshot; slices held by a Snapshot are never written after construction.
type Snapshot struct {
	tracks [trackCount][]Clip
}

// NewSnapshot builds a snapshot from a flat clip list. Clips are grouped by
// track and ordered by their stored StartTime (ties keep list order); start
// times are then recomputed.
func NewSnapshot(clips []Clip) (Snapshot, error) {
	const op = "load snapshot"

	var s Snapshot
	ids := make(map[string]bool, len(clips))
	for i, c := range clips {
		if !c.Track.Valid() {
			return Snapshot{}, invalid(op, ErrInvalidTrack, "clip %d: track %d", i, int(c.Track))
		}
		if c.ID == "" {
			return Snapshot{}, faults.Validation(op, "clip %d: missing id", i)
		}
		if ids[c.ID] {
			return Snapshot{}, invalid(op, ErrDuplicateID, "clip %q", c.ID)
		}
		ids[c.ID] = true
		if err := validateClip(op, c); err != nil {
			return Snapshot{}, err
		}
		c = c.Clone()
		if c.SourceDuration == 0 {
			c.SourceDuration = c.OutTime
		}
		s.tracks[c.Track] = append(s.tracks[c.Track], c)
	}

	for t := range s.tracks {
		track := s.tracks[t]
		sort.SliceStable(track, func(a, b int) bool {
			return track[a].StartTime < track[b].StartTime
		})
		relayout(track)
	}
	return s, nil
}

func validateClip(op string, c Clip) error {
	if c.SourceRef == "" {
		return faults.Validation(op, "clip %q: missing sourceRef", c.ID)
	}
	if !isFinite(c.InTime) || !isFinite(c.OutTime) {
		return invalid(op, ErrInvalidRange, "clip %q: times must be finite", c.ID)
	}
	if c.InTime < 0 || c.OutTime-c.InTime < MinClipDuration-epsilon {
		return invalid(op, ErrInvalidRange, "clip %q: [%g, %g]", c.ID, c.InTime, c.OutTime)
	}
	if c.SourceDuration != 0 && (!isFinite(c.SourceDuration) || c.OutTime > c.SourceDuration+epsilon) {
		return invalid(op, ErrInvalidRange, "clip %q: out %g beyond source duration %g", c.ID, c.OutTime, c.SourceDuration)
	}
	if !KnownFilter(c.Filter) {
		return faults.Validation(op, "clip %q: unknown filter %q", c.ID, c.Filter)
	}
	if err := validateOverlays(op, c.ID, c.Overlays); err != nil {
		return err
	}
	return nil
}

func validateOverlays(op, clipID string, overlays []Overlay) error {
	seen := make(map[string]bool, len(overlays))
	for i, o := range overlays {
		if o.ID == "" {
			return faults.Validation(op, "clip %q: overlay %d: missing id", clipID, i)
		}
		if seen[o.ID] {
			return invalid(op, ErrDuplicateID, "clip %q: overlay %q", clipID, o.ID)
		}
		seen[o.ID] = true
		if o.ImageRef == "" {
			return faults.Validation(op, "clip %q: overlay %q: missing imageRef", clipID, o.ID)
		}
	}
	return nil
}

// invalid builds a validation error that also matches sentinel.
func invalid(op string, sentinel error, format string, args ...any) error {
	return &faults.Error{Kind: faults.ErrValidation, Op: op, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// relayout assigns contiguous start times to the clips of one track.
func relayout(clips []Clip) {
	start := 0.0
	for i := range clips {
		clips[i].StartTime = start
		start += clips[i].Duration()
	}
}

// Clips returns a copy of the clips on track in layout order.
func (s Snapshot) Clips(track Track) []Clip {
	if !track.Valid() {
		return nil
	}
	out := make([]Clip, len(s.tracks[track]))
	for i, c := range s.tracks[track] {
		out[i] = c.Clone()
	}
	return out
}

// All returns the main track clips followed by the overlay track clips.
func (s Snapshot) All() []Clip {
	return append(s.Clips(TrackMain), s.Clips(TrackOverlay)...)
}

// Len returns the number of clips on track.
func (s Snapshot) Len(track Track) int {
	if !track.Valid() {
		return 0
	}
	return len(s.tracks[track])
}

// Duration returns the summed trimmed duration of track.
func (s Snapshot) Duration(track Track) float64 {
	if !track.Valid() {
		return 0
	}
	var total float64
	for _, c := range s.tracks[track] {
		total += c.Duration()
	}
	return total
}

// Find returns the clip with id and its index within its track.
func (s Snapshot) Find(id string) (Clip, int, bool) {
	for t := range s.tracks {
		for i, c := range s.tracks[t] {
			if c.ID == id {
				return c.Clone(), i, true
			}
		}
	}
	return Clip{}, -1, false
}

// Equal reports whether two snapshots hold identical clips.
func (s Snapshot) Equal(other Snapshot) bool {
	for t := range s.tracks {
		if len(s.tracks[t]) != len(other.tracks[t]) {
			return false
		}
		for i := range s.tracks[t] {
			if !clipEqual(s.tracks[t][i], other.tracks[t][i]) {
				return false
			}
		}
	}
	return true
}

func clipEqual(a, b Clip) bool {
	if a.ID != b.ID || a.SourceRef != b.SourceRef || a.SourceDuration != b.SourceDuration ||
		a.InTime != b.InTime || a.OutTime != b.OutTime || a.StartTime != b.StartTime ||
		a.Track != b.Track || a.Muted != b.Muted || a.Filter != b.Filter {
		return false
	}
	if len(a.Overlays) != len(b.Overlays) {
		return false
	}
	for i := range a.Overlays {
		if a.Overlays[i] != b.Overlays[i] {
			return false
		}
	}
	if (a.Position == nil) != (b.Position == nil) || (a.Position != nil && *a.Position != *b.Position) {
		return false
	}
	if (a.Size == nil) != (b.Size == nil) || (a.Size != nil && *a.Size != *b.Size) {
		return false
	}
	return true
}

func (s Snapshot) locate(op, id string) (Track, int, error) {
	for t := range s.tracks {
		for i, c := range s.tracks[t] {
			if c.ID == id {
				return Track(t), i, nil
			}
		}
	}
	return 0, -1, invalid(op, ErrClipNotFound, "%q", id)
}

func (s Snapshot) hasID(id string) bool {
	_, _, err := s.locate("", id)
	return err == nil
}

// withTrack returns a copy of s whose track t is replaced by clips, with
// start times recomputed for that track only.
func (s Snapshot) withTrack(t Track, clips []Clip) Snapshot {
	next := s
	relayout(clips)
	next.tracks[t] = clips
	return next
}

// replaceClip returns a copy of s with the clip at (t, i) replaced. Layout is
// unchanged.
func (s Snapshot) replaceClip(t Track, i int, c Clip) Snapshot {
	clips := make([]Clip, len(s.tracks[t]))
	copy(clips, s.tracks[t])
	clips[i] = c
	next := s
	next.tracks[t] = clips
	return next
}

func (s Snapshot) String() string {
	return fmt.Sprintf("snapshot(main=%d, overlay=%d)", len(s.tracks[TrackMain]), len(s.tracks[TrackOverlay]))
}
