// Package timeline holds the two-track timeline model: clips, their overlays,
// the derived contiguous layout, and the edit operations that produce new
// immutable snapshots.
package timeline

import (
	"errors"
	"fmt"
)

// Track identifies one of the two timeline lanes.
type Track int

const (
	TrackMain    Track = 0
	TrackOverlay Track = 1

	trackCount = 2
)

// MinClipDuration is the shortest trimmed window a clip may have, in seconds.
const MinClipDuration = 0.1

// epsilon absorbs float rounding when comparing against MinClipDuration.
const epsilon = 1e-9

// Default picture-in-picture geometry for overlay-track clips, in percent.
var (
	DefaultPIPPosition = Position{X: 65, Y: 65}
	DefaultPIPSize     = Size{Width: 30, Height: 30}
)

var (
	ErrClipNotFound = errors.New("clip not found")
	ErrInvalidRange = errors.New("invalid range")
	ErrDuplicateID  = errors.New("duplicate id")
	ErrInvalidTrack = errors.New("invalid track")
)

// Valid reports whether t is one of the two timeline tracks.
func (t Track) Valid() bool {
	return t == TrackMain || t == TrackOverlay
}

func (t Track) String() string {
	switch t {
	case TrackMain:
		return "main"
	case TrackOverlay:
		return "overlay"
	default:
		return fmt.Sprintf("track(%d)", int(t))
	}
}

// Position is a frame-relative offset in percent.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a frame-relative extent in percent.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Overlay is an image composited onto a main-track clip.
type Overlay struct {
	ID       string   `json:"id"`
	ImageRef string   `json:"imageRef"`
	Opacity  float64  `json:"opacity"`
	Position Position `json:"position"`
	Size     Size     `json:"size"`
}

// Clip is a trimmed window into a source asset placed on a track.
// StartTime is derived from the clip's position in its track.
type Clip struct {
	ID             string    `json:"id"`
	SourceRef      string    `json:"sourceRef"`
	SourceDuration float64   `json:"sourceDuration"`
	InTime         float64   `json:"inTime"`
	OutTime        float64   `json:"outTime"`
	StartTime      float64   `json:"startTime"`
	Track          Track     `json:"track"`
	Muted          bool      `json:"muted,omitempty"`
	Filter         string    `json:"filter,omitempty"`
	Overlays       []Overlay `json:"overlays,omitempty"`
	Position       *Position `json:"position,omitempty"`
	Size           *Size     `json:"size,omitempty"`
}

// Duration returns the trimmed length of the clip.
func (c Clip) Duration() float64 {
	return c.OutTime - c.InTime
}

// EndTime returns the timeline time at which the clip ends.
func (c Clip) EndTime() float64 {
	return c.StartTime + c.Duration()
}

// Geometry returns the picture-in-picture placement of an overlay-track clip,
// falling back to the defaults for unset fields.
func (c Clip) Geometry() (Position, Size) {
	pos, size := DefaultPIPPosition, DefaultPIPSize
	if c.Position != nil {
		pos = *c.Position
	}
	if c.Size != nil {
		size = *c.Size
	}
	return pos, size
}

// Clone returns a deep copy of c.
func (c Clip) Clone() Clip {
	out := c
	if c.Overlays != nil {
		out.Overlays = make([]Overlay, len(c.Overlays))
		copy(out.Overlays, c.Overlays)
	}
	if c.Position != nil {
		p := *c.Position
		out.Position = &p
	}
	if c.Size != nil {
		s := *c.Size
		out.Size = &s
	}
	return out
}

// Filter names accepted by SetFilter. An empty name means no filter.
const (
	FilterNone      = ""
	FilterGrayscale = "grayscale"
	FilterSepia     = "sepia"
	FilterInvert    = "invert"
	FilterBlur      = "blur"
	FilterSharpen   = "sharpen"
	FilterVintage   = "vintage"
	FilterWarm      = "warm"
	FilterCool      = "cool"
	FilterBright    = "bright"
	FilterContrast  = "contrast"
	FilterSaturate  = "saturate"
)

var knownFilters = map[string]bool{
	FilterGrayscale: true,
	FilterSepia:     true,
	FilterInvert:    true,
	FilterBlur:      true,
	FilterSharpen:   true,
	FilterVintage:   true,
	FilterWarm:      true,
	FilterCool:      true,
	FilterBright:    true,
	FilterContrast:  true,
	FilterSaturate:  true,
}

// KnownFilter reports whether name is a supported filter. The empty name is
// always accepted.
func KnownFilter(name string) bool {
	return name == FilterNone || knownFilters[name]
}

// Filters returns the supported filter names.
func Filters() []string {
	return []string{
		FilterGrayscale, FilterSepia, FilterInvert, FilterBlur, FilterSharpen,
		FilterVintage, FilterWarm, FilterCool, FilterBright, FilterContrast, FilterSaturate,
	}
}

// NormalizeFilter maps "none" to the empty name.
func NormalizeFilter(name string) string {
	if name == "none" {
		return FilterNone
	}
	return name
}
