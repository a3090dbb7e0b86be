package haptic

const (
	// deadZoneWidth is the full width of the dead-zone around an indent,
	// half of it on each side.
	deadZoneWidth = 0.03 * MaxPosition

	// snapThreshold snaps a mapped value that lands almost exactly on an
	// indent onto it, so the felt click-stop and the logical value agree
	// despite rounding.
	snapThreshold = 5

	// WrapThreshold disambiguates wrap-forward from wrap-backward on
	// endless-rotation knobs: a jump of more than half the range is a wrap.
	WrapThreshold = 16383
)

// ValueToHW maps a normalized value in [0,1] to a raw hardware position
// inside the mode's arc. With indents configured, the linear map is
// re-expressed in the sub-ranges between dead-zone edges so that the indent
// position corresponds exactly to its logical value regardless of arc width.
func (m *Mode) ValueToHW(value float64) uint16 {
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}

	lo, hi := m.HWRange()
	raw := float64(lo) + value*float64(hi-lo)

	indents := m.IndentPositions()
	if len(indents) == 0 {
		return roundPos(raw)
	}

	for _, p := range indents {
		if abs(raw-float64(p)) <= snapThreshold {
			return p
		}
	}

	segLo, segHi, edgeLo, edgeHi := segment(raw, lo, hi, indents)
	if edgeHi <= edgeLo {
		// Dead-zones swallowed the whole sub-range.
		return roundPos((segLo + segHi) / 2)
	}

	return roundPos(edgeLo + (raw-segLo)/(segHi-segLo)*(edgeHi-edgeLo))
}

// HWToValue is the inverse transform. Raw positions inside an indent's
// dead-zone are pinned to the indent's canonical value; everything else is
// rescaled from its sub-range back into the matching fraction of [0,1].
func (m *Mode) HWToValue(raw uint16) float64 {
	lo, hi := m.HWRange()
	if hi == lo {
		return 0
	}

	r := float64(raw)

	indents := m.IndentPositions()
	if len(indents) > 0 {
		pinned := false
		for _, p := range indents {
			if abs(r-float64(p)) <= deadZoneWidth/2 {
				r = float64(p)
				pinned = true
				break
			}
		}

		if !pinned {
			segLo, segHi, edgeLo, edgeHi := segment(r, lo, hi, indents)
			if edgeHi > edgeLo {
				r = segLo + (r-edgeLo)/(edgeHi-edgeLo)*(segHi-segLo)
			}
		}
	}

	value := (r - float64(lo)) / float64(hi-lo)
	if value < 0 {
		value = 0
	}
	if value > 1 {
		value = 1
	}
	return value
}

// segment locates the sub-range of [lo, hi] that raw falls in. Sub-ranges
// are separated by the indent positions; segLo/segHi are the nominal bounds
// and edgeLo/edgeHi the bounds pulled in by the dead-zone around any indent
// boundary.
func segment(raw float64, lo, hi uint16, indents []uint16) (segLo, segHi, edgeLo, edgeHi float64) {
	segLo = float64(lo)
	loIndent := false

	for _, p := range indents {
		if raw < float64(p) {
			break
		}
		segLo = float64(p)
		loIndent = true
	}

	segHi = float64(hi)
	hiIndent := false
	for _, p := range indents {
		if float64(p) > segLo && float64(p) > raw {
			segHi = float64(p)
			hiIndent = true
			break
		}
	}

	edgeLo = segLo
	if loIndent {
		edgeLo += deadZoneWidth / 2
	}
	edgeHi = segHi
	if hiIndent {
		edgeHi -= deadZoneWidth / 2
	}

	return segLo, segHi, edgeLo, edgeHi
}

// RelativeTracker accumulates the travel of an endless-rotation knob whose
// raw position wraps at the hardware range.
type RelativeTracker struct {
	last   uint16
	total  int32
	primed bool
}

// Reset re-bases the tracker on the given raw position without moving the
// accumulated total.
func (t *RelativeTracker) Reset(raw uint16) {
	t.last = raw
	t.primed = true
}

// Update folds a new raw reading into the rolling total and returns it. A
// jump larger than half the range is interpreted as a wrap in the opposite
// direction.
func (t *RelativeTracker) Update(raw uint16) int32 {
	if !t.primed {
		t.Reset(raw)
		return t.total
	}

	delta := int32(raw) - int32(t.last)
	if delta > WrapThreshold {
		delta -= MaxPosition + 1
	} else if delta < -WrapThreshold {
		delta += MaxPosition + 1
	}

	t.total += delta
	t.last = raw
	return t.total
}

// Total returns the accumulated travel.
func (t *RelativeTracker) Total() int32 {
	return t.total
}

func roundPos(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > MaxPosition {
		return MaxPosition
	}
	return uint16(v + 0.5)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
