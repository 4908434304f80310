package execution

import (
	"math"
	"strconv"
	"strings"
)

// progressTracker turns ffmpeg -progress key=value lines into percentages
// that never decrease and stay within [0, 100].
type progressTracker struct {
	duration float64
	last     float64
}

func newProgressTracker(duration float64) *progressTracker {
	return &progressTracker{duration: duration, last: -1}
}

// observe consumes one line and returns a new percentage when it advanced.
func (p *progressTracker) observe(line string) (float64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}

	var percent float64
	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds.
		us, err := strconv.ParseFloat(value, 64)
		if err != nil || p.duration <= 0 {
			return 0, false
		}
		percent = us / 1e6 / p.duration * 100
	case "out_time":
		secs, ok := parseClock(value)
		if !ok || p.duration <= 0 {
			return 0, false
		}
		percent = secs / p.duration * 100
	case "progress":
		if value != "end" {
			return 0, false
		}
		percent = 100
	default:
		return 0, false
	}

	percent = clampPercent(percent)
	if percent <= p.last {
		return 0, false
	}
	p.last = percent
	return percent, true
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// parseClock parses HH:MM:SS.micro.
func parseClock(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	var total float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}
