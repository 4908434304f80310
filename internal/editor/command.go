// Package editor serializes edits to open projects. A Session owns one
// timeline model and its undo history and persists both after every
// committed change.
package editor

import (
	"context"
	"errors"
	"fmt"

	"github.com/cutroom/cutroom-agent/internal/faults"
	"github.com/cutroom/cutroom-agent/internal/timeline"
)

// Op names an edit operation.
type Op string

const (
	OpInsert   Op = "insert"
	OpTrim     Op = "trim"
	OpSplit    Op = "split"
	OpReorder  Op = "reorder"
	OpDelete   Op = "delete"
	OpMute     Op = "mute"
	OpFilter   Op = "filter"
	OpOverlays Op = "overlays"
	OpGeometry Op = "geometry"
)

// Command is one edit. Fields not used by Op are ignored.
type Command struct {
	Op        Op                 `json:"op"`
	ClipID    string             `json:"clipId,omitempty"`
	Track     timeline.Track     `json:"track,omitempty"`
	SourceRef string             `json:"sourceRef,omitempty"`
	Duration  float64            `json:"duration,omitempty"` // native source duration; 0 looks it up
	Index     *int               `json:"index,omitempty"`    // nil appends
	InTime    *float64           `json:"inTime,omitempty"`
	OutTime   *float64           `json:"outTime,omitempty"`
	At        float64            `json:"at,omitempty"` // split point, clip-local seconds
	Target    int                `json:"target,omitempty"`
	Muted     bool               `json:"muted,omitempty"`
	Filter    string             `json:"filter,omitempty"`
	Overlays  []timeline.Overlay `json:"overlays,omitempty"`
	Position  *timeline.Position `json:"position,omitempty"`
	Size      *timeline.Size     `json:"size,omitempty"`
}

// Label describes the command for history entries.
func (c Command) Label() string {
	if c.ClipID == "" {
		return string(c.Op)
	}
	return fmt.Sprintf("%s %s", c.Op, c.ClipID)
}

// Result reports the clips a command created or changed.
type Result struct {
	Op    Op              `json:"op"`
	Clips []timeline.Clip `json:"clips,omitempty"`

	added []timeline.LibraryClip
}

// BatchError reports the command that rejected a batch.
type BatchError struct {
	Index int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("command %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

var (
	ErrGestureActive = errors.New("a gesture is in progress")
	ErrNoGesture     = errors.New("no gesture in progress")
)

// AssetLookup resolves source references to library entries.
type AssetLookup interface {
	LookupAsset(ctx context.Context, ref string) (timeline.LibraryClip, bool, error)
}

// apply runs cmd against m. known lists library entries already available
// so lookups can be skipped.
func apply(ctx context.Context, m *timeline.Model, cmd Command, lookup AssetLookup, known map[string]timeline.LibraryClip) (Result, error) {
	res := Result{Op: cmd.Op}

	resolve := func(ref string) (timeline.LibraryClip, bool, error) {
		if lc, ok := known[ref]; ok {
			return lc, true, nil
		}
		if lookup == nil || ref == "" {
			return timeline.LibraryClip{}, false, nil
		}
		lc, ok, err := lookup.LookupAsset(ctx, ref)
		if err != nil || !ok {
			return lc, ok, err
		}
		res.added = append(res.added, lc)
		return lc, true, nil
	}

	switch cmd.Op {
	case OpInsert:
		dur := cmd.Duration
		lc, ok, err := resolve(cmd.SourceRef)
		if err != nil {
			return res, err
		}
		if dur <= 0 && ok {
			dur = lc.Duration
		}
		index := -1
		if cmd.Index != nil {
			index = *cmd.Index
		}
		c, err := m.InsertClip(cmd.Track, cmd.SourceRef, dur, index)
		if err != nil {
			return res, err
		}
		res.Clips = []timeline.Clip{c}

	case OpTrim:
		c, err := m.TrimClip(cmd.ClipID, cmd.InTime, cmd.OutTime)
		if err != nil {
			return res, err
		}
		res.Clips = []timeline.Clip{c}

	case OpSplit:
		first, second, err := m.SplitClip(cmd.ClipID, cmd.At)
		if err != nil {
			return res, err
		}
		res.Clips = []timeline.Clip{first, second}

	case OpReorder:
		if err := m.ReorderClip(cmd.ClipID, cmd.Target); err != nil {
			return res, err
		}

	case OpDelete:
		if err := m.DeleteClip(cmd.ClipID); err != nil {
			return res, err
		}

	case OpMute:
		if err := m.SetMute(cmd.ClipID, cmd.Muted); err != nil {
			return res, err
		}

	case OpFilter:
		if err := m.SetFilter(cmd.ClipID, cmd.Filter); err != nil {
			return res, err
		}

	case OpOverlays:
		for _, o := range cmd.Overlays {
			if _, _, err := resolve(o.ImageRef); err != nil {
				return res, err
			}
		}
		if err := m.SetOverlays(cmd.ClipID, cmd.Overlays); err != nil {
			return res, err
		}

	case OpGeometry:
		if err := m.SetGeometry(cmd.ClipID, cmd.Position, cmd.Size); err != nil {
			return res, err
		}

	default:
		return res, faults.Validation("apply", "unknown operation %q", cmd.Op)
	}

	if res.Clips == nil && cmd.ClipID != "" {
		if c, _, ok := m.Snapshot().Find(cmd.ClipID); ok {
			res.Clips = []timeline.Clip{c}
		}
	}
	return res, nil
}
