package scale

import "math"

// Rounder quantises a noisy weight signal to Increment steps. The displayed
// value only moves once the signal leaves a dead-band of
// Hysteresis+Increment/2 around the last displayed value, so a reading that
// sits on a rounding boundary does not flicker between two steps.
//
// Rounder is stateful and not safe for concurrent use. Calls must be made
// in signal order.
type Rounder struct {
	Increment  float64
	Hysteresis float64

	last float64
}

// NewRounder returns a Rounder whose last displayed value is 0.
func NewRounder(increment, hysteresis float64) *Rounder {
	return &Rounder{
		Increment:  increment,
		Hysteresis: hysteresis,
	}
}

// Advance feeds one weight sample and returns the value to display.
func (r *Rounder) Advance(weight float64) float64 {
	rounded := weight
	if r.Increment > 0 {
		rounded = math.Round(weight/r.Increment) * r.Increment
	}

	band := r.Hysteresis + r.Increment/2
	diff := weight - r.last // positive: weight is above the displayed value

	reported := r.last
	if diff > band || diff < -band {
		// Rising or falling past the dead-band. Snap to the nearest step,
		// not to the edge of the band.
		reported = rounded
	}

	r.last = reported
	return reported
}

// Last returns the value returned by the previous Advance call.
func (r *Rounder) Last() float64 {
	return r.last
}
