package rendergraph

import (
	"fmt"
	"strings"
)

// Resolution names an output size.
type Resolution string

const (
	Resolution720p     Resolution = "720p"
	Resolution1080p    Resolution = "1080p"
	ResolutionOriginal Resolution = "original"
)

// ParseResolution accepts the three resolution names, case-insensitively.
// An empty string selects 1080p.
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(strings.ToLower(strings.TrimSpace(s))) {
	case "", Resolution1080p:
		return Resolution1080p, nil
	case Resolution720p:
		return Resolution720p, nil
	case ResolutionOriginal:
		return ResolutionOriginal, nil
	default:
		return "", fmt.Errorf("unknown resolution %q", s)
	}
}

// Dimensions is a frame size in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (d Dimensions) String() string { return fmt.Sprintf("%dx%d", d.Width, d.Height) }

// Valid reports whether both sides are positive.
func (d Dimensions) Valid() bool { return d.Width > 0 && d.Height > 0 }

// fixed returns the pixel size of a named resolution. ok is false for
// ResolutionOriginal, which needs a probe.
func (r Resolution) fixed() (Dimensions, bool) {
	switch r {
	case Resolution720p:
		return Dimensions{Width: 1280, Height: 720}, true
	case Resolution1080p:
		return Dimensions{Width: 1920, Height: 1080}, true
	default:
		return Dimensions{}, false
	}
}

// Options are the export settings that shape the graph.
type Options struct {
	Resolution          Resolution `json:"resolution"`
	OverlayTrackVisible bool       `json:"overlayTrackVisible"`
	Track0Muted         bool       `json:"track0Muted"`
	Track1Muted         bool       `json:"track1Muted"`
}

// DefaultOptions returns 1080p with the overlay track visible.
func DefaultOptions() Options {
	return Options{Resolution: Resolution1080p, OverlayTrackVisible: true}
}
