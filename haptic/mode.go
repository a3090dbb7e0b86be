// Package haptic describes the feel of a motorized knob (arc width, friction,
// detents, indents) and converts between normalized application values and
// raw hardware positions.
package haptic

import "sort"

const (
	// MaxPosition is the largest raw position the motor controllers accept.
	MaxPosition = 32767

	// MinWidthDegrees and MaxWidthDegrees bound the restricted arc a motor
	// can enforce.
	MinWidthDegrees = 30.0
	MaxWidthDegrees = 330.0

	fullCircle = 360.0

	// MaxIndents is the most indent positions one configuration packet can
	// carry.
	MaxIndents = 32
)

// Indent is a discrete raw position the knob snaps to, surrounded by a
// dead-zone.
type Indent struct {
	Enabled  bool
	Position uint16
}

// Mode is an immutable description of a knob's haptic behaviour, selected by
// name per knob.
type Mode struct {
	Name string

	// WidthDegrees is the usable arc. 360 or more means unrestricted.
	WidthDegrees float64

	// StartDegrees positions the arc. Negative means unset, in which case
	// the arc is centered horizontally.
	StartDegrees float64

	Friction       float64
	NumDetents     int
	DetentStrength float64

	Indents []Indent
}

// Restricted reports whether the knob arc is narrower than a full turn.
func (m *Mode) Restricted() bool {
	return m.WidthDegrees < fullCircle
}

// HapticsEnabled reports whether the motor has anything to enforce.
func (m *Mode) HapticsEnabled() bool {
	if m.Restricted() || m.Friction > 0 || m.NumDetents > 0 {
		return true
	}
	return len(m.IndentPositions()) > 0
}

// Arc returns the clamped start and width of the knob arc in degrees.
// The width is clamped to the supported range, the start defaults to
// centering the arc, and the width is truncated if the arc would run past a
// full turn.
func (m *Mode) Arc() (start, width float64) {
	width = m.WidthDegrees
	if width < MinWidthDegrees {
		width = MinWidthDegrees
	}
	if width > MaxWidthDegrees {
		width = MaxWidthDegrees
	}

	start = m.StartDegrees
	if start < 0 {
		start = (fullCircle - width) / 2
	}

	if start+width > fullCircle {
		width = fullCircle - start
	}

	return start, width
}

// HWRange returns the raw position range the arc maps to. An unrestricted
// mode uses the full hardware range.
func (m *Mode) HWRange() (min, max uint16) {
	if !m.Restricted() {
		return 0, MaxPosition
	}

	start, width := m.Arc()
	min = DegreesToRaw(start)
	max = DegreesToRaw(start + width)
	return min, max
}

// IndentPositions returns the enabled indent positions in ascending order,
// capped at MaxIndents. An indent outside the knob arc cannot be enforced by
// the motor and is ignored, so it never distorts the value mapping either.
func (m *Mode) IndentPositions() []uint16 {
	lo, hi := m.HWRange()

	var out []uint16
	for _, in := range m.Indents {
		if !in.Enabled || in.Position < lo || in.Position > hi {
			continue
		}
		out = append(out, in.Position)
		if len(out) == MaxIndents {
			break
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DegreesToRaw converts an angle to the 16 bit position scale.
func DegreesToRaw(deg float64) uint16 {
	raw := deg / fullCircle * MaxPosition
	if raw < 0 {
		return 0
	}
	if raw > MaxPosition {
		return MaxPosition
	}
	return uint16(raw + 0.5)
}
