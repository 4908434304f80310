package timeline

import (
	"math"

	"github.com/cutroom/cutroom-agent/internal/faults"
)

// InsertClip places a new untrimmed clip of nativeDuration on track at index.
// A negative index or one past the end appends.
func (s Snapshot) InsertClip(id string, track Track, sourceRef string, nativeDuration float64, index int) (Snapshot, error) {
	const op = "insert clip"

	if !track.Valid() {
		return s, invalid(op, ErrInvalidTrack, "track %d", int(track))
	}
	if id == "" {
		return s, faults.Validation(op, "missing clip id")
	}
	if s.hasID(id) {
		return s, invalid(op, ErrDuplicateID, "clip %q", id)
	}
	if sourceRef == "" {
		return s, faults.Validation(op, "missing sourceRef")
	}
	if !isFinite(nativeDuration) || nativeDuration < MinClipDuration-epsilon {
		return s, invalid(op, ErrInvalidRange, "native duration %g below minimum %gs", nativeDuration, MinClipDuration)
	}

	current := s.tracks[track]
	if index < 0 || index > len(current) {
		index = len(current)
	}

	clips := make([]Clip, 0, len(current)+1)
	clips = append(clips, current[:index]...)
	clips = append(clips, Clip{
		ID:             id,
		SourceRef:      sourceRef,
		SourceDuration: nativeDuration,
		InTime:         0,
		OutTime:        nativeDuration,
		Track:          track,
	})
	clips = append(clips, current[index:]...)
	return s.withTrack(track, clips), nil
}

// TrimClip sets a new trim window. Nil bounds keep their current value;
// requested values are clamped to [0, source duration].
func (s Snapshot) TrimClip(id string, newIn, newOut *float64) (Snapshot, error) {
	const op = "trim clip"

	t, i, err := s.locate(op, id)
	if err != nil {
		return s, err
	}
	c := s.tracks[t][i].Clone()

	in, out := c.InTime, c.OutTime
	if newIn != nil {
		if math.IsNaN(*newIn) {
			return s, invalid(op, ErrInvalidRange, "clip %q: in time is not a number", id)
		}
		in = Clamp(*newIn, 0, c.SourceDuration)
	}
	if newOut != nil {
		if math.IsNaN(*newOut) {
			return s, invalid(op, ErrInvalidRange, "clip %q: out time is not a number", id)
		}
		out = Clamp(*newOut, 0, c.SourceDuration)
	}
	if out-in < MinClipDuration-epsilon {
		return s, invalid(op, ErrInvalidRange, "clip %q: duration %.3fs below minimum %gs", id, out-in, MinClipDuration)
	}

	c.InTime, c.OutTime = in, out
	clips := make([]Clip, len(s.tracks[t]))
	copy(clips, s.tracks[t])
	clips[i] = c
	return s.withTrack(t, clips), nil
}

// SplitClip replaces a clip with two clips cut at local, a time relative to
// the clip's trimmed content.
func (s Snapshot) SplitClip(id string, local float64, firstID, secondID string) (Snapshot, error) {
	const op = "split clip"

	t, i, err := s.locate(op, id)
	if err != nil {
		return s, err
	}
	c := s.tracks[t][i]

	if !isFinite(local) || local < MinClipDuration-epsilon || local > c.Duration()-MinClipDuration+epsilon {
		return s, invalid(op, ErrInvalidRange, "clip %q: split point %g outside [%g, %g]", id, local, MinClipDuration, c.Duration()-MinClipDuration)
	}
	if firstID == "" || secondID == "" || firstID == secondID {
		return s, faults.Validation(op, "split needs two distinct clip ids")
	}
	for _, newID := range []string{firstID, secondID} {
		if newID != id && s.hasID(newID) {
			return s, invalid(op, ErrDuplicateID, "clip %q", newID)
		}
	}

	cut := c.InTime + local
	first := c.Clone()
	first.ID = firstID
	first.OutTime = cut
	second := c.Clone()
	second.ID = secondID
	second.InTime = cut

	current := s.tracks[t]
	clips := make([]Clip, 0, len(current)+1)
	clips = append(clips, current[:i]...)
	clips = append(clips, first, second)
	clips = append(clips, current[i+1:]...)
	return s.withTrack(t, clips), nil
}

// ReorderClip moves a clip to target within its own track.
func (s Snapshot) ReorderClip(id string, target int) (Snapshot, error) {
	const op = "reorder clip"

	t, i, err := s.locate(op, id)
	if err != nil {
		return s, err
	}
	current := s.tracks[t]
	if target < 0 || target >= len(current) {
		return s, invalid(op, ErrInvalidRange, "target index %d outside [0, %d]", target, len(current)-1)
	}

	moved := current[i]
	clips := make([]Clip, 0, len(current))
	clips = append(clips, current[:i]...)
	clips = append(clips, current[i+1:]...)
	clips = append(clips[:target], append([]Clip{moved}, clips[target:]...)...)
	return s.withTrack(t, clips), nil
}

// DeleteClip removes a clip from its track.
func (s Snapshot) DeleteClip(id string) (Snapshot, error) {
	t, i, err := s.locate("delete clip", id)
	if err != nil {
		return s, err
	}
	current := s.tracks[t]
	clips := make([]Clip, 0, len(current)-1)
	clips = append(clips, current[:i]...)
	clips = append(clips, current[i+1:]...)
	return s.withTrack(t, clips), nil
}

// SetMute sets the clip's muted flag.
func (s Snapshot) SetMute(id string, muted bool) (Snapshot, error) {
	t, i, err := s.locate("set mute", id)
	if err != nil {
		return s, err
	}
	c := s.tracks[t][i].Clone()
	c.Muted = muted
	return s.replaceClip(t, i, c), nil
}

// SetFilter assigns a named filter; "" or "none" clears it.
func (s Snapshot) SetFilter(id, name string) (Snapshot, error) {
	const op = "set filter"

	t, i, err := s.locate(op, id)
	if err != nil {
		return s, err
	}
	name = NormalizeFilter(name)
	if !KnownFilter(name) {
		return s, faults.Validation(op, "unknown filter %q", name)
	}
	c := s.tracks[t][i].Clone()
	c.Filter = name
	return s.replaceClip(t, i, c), nil
}

// SetOverlays replaces the overlay list of a main-track clip. Values are
// stored clamped; a NaN field rejects the whole list.
func (s Snapshot) SetOverlays(id string, overlays []Overlay) (Snapshot, error) {
	const op = "set overlays"

	t, i, err := s.locate(op, id)
	if err != nil {
		return s, err
	}
	if t != TrackMain && len(overlays) > 0 {
		return s, invalid(op, ErrInvalidTrack, "overlays attach to main-track clips only")
	}
	if err := validateOverlays(op, id, overlays); err != nil {
		return s, err
	}

	var stored []Overlay
	if len(overlays) > 0 {
		stored = make([]Overlay, len(overlays))
		for k, o := range overlays {
			clamped, ok := o.Clamped()
			if !ok {
				return s, invalid(op, ErrInvalidRange, "clip %q: overlay %q has a non-numeric field", id, o.ID)
			}
			stored[k] = clamped
		}
	}

	c := s.tracks[t][i].Clone()
	c.Overlays = stored
	return s.replaceClip(t, i, c), nil
}

// SetGeometry sets the picture-in-picture placement of an overlay-track clip.
// Nil arguments keep the current value.
func (s Snapshot) SetGeometry(id string, pos *Position, size *Size) (Snapshot, error) {
	const op = "set geometry"

	t, i, err := s.locate(op, id)
	if err != nil {
		return s, err
	}
	if t != TrackOverlay {
		return s, invalid(op, ErrInvalidTrack, "geometry applies to overlay-track clips only")
	}
	c := s.tracks[t][i].Clone()
	if pos != nil {
		if !pos.finite() {
			return s, invalid(op, ErrInvalidRange, "clip %q: position is not a number", id)
		}
		p := pos.Clamped()
		c.Position = &p
	}
	if size != nil {
		if !size.finite() {
			return s, invalid(op, ErrInvalidRange, "clip %q: size is not a number", id)
		}
		sz := size.Clamped()
		c.Size = &sz
	}
	return s.replaceClip(t, i, c), nil
}
