package timeline

import "math"

// Clamp limits v to [lo, hi]. NaN is returned unchanged.
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampPercent limits v to [0, 100].
func ClampPercent(v float64) float64 { return Clamp(v, 0, 100) }

// ClampUnit limits v to [0, 1].
func ClampUnit(v float64) float64 { return Clamp(v, 0, 1) }

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Clamped returns the overlay with every numeric field in range. ok is false
// when any field is NaN.
func (o Overlay) Clamped() (Overlay, bool) {
	if math.IsNaN(o.Opacity) || !o.Position.finite() || !o.Size.finite() {
		return o, false
	}
	o.Opacity = ClampUnit(o.Opacity)
	o.Position = o.Position.Clamped()
	o.Size = o.Size.Clamped()
	return o, true
}

// Clamped returns p with both coordinates in [0, 100].
func (p Position) Clamped() Position {
	return Position{X: ClampPercent(p.X), Y: ClampPercent(p.Y)}
}

// Clamped returns s with both extents in [0, 100].
func (s Size) Clamped() Size {
	return Size{Width: ClampPercent(s.Width), Height: ClampPercent(s.Height)}
}

func (p Position) finite() bool { return !math.IsNaN(p.X) && !math.IsNaN(p.Y) }

func (s Size) finite() bool { return !math.IsNaN(s.Width) && !math.IsNaN(s.Height) }

// Finite reports whether both coordinates are numbers.
func (p Position) Finite() bool { return p.finite() }

// Finite reports whether both extents are numbers.
func (s Size) Finite() bool { return s.finite() }
