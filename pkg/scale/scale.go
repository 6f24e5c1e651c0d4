package scale

import (
	"github.com/sirupsen/logrus"
)

// Source is a load cell that is polled once per tick.
type Source interface {
	// RawWeight returns the current weight relative to the sensor's own
	// zero reference, before tare.
	RawWeight() float64
	// RequestZero asks the sensor to take the current load as its new zero
	// reference. Completion is reported later through ZeroComplete.
	RequestZero()
	// ZeroComplete reports, once, that a requested zero has finished.
	ZeroComplete() bool
}

// Options configures the conditioning of a Scale.
type Options struct {
	Increment  float64
	Hysteresis float64
}

// Scale holds the tare offset and displayed weight shared by every client.
// It has exactly one owner goroutine (the tick loop) and uses no locks.
type Scale struct {
	src     Source
	rounder *Rounder

	tare     float64
	reported float64
	ticks    uint64
}

// New returns a Scale reading from src with a zero tare offset.
func New(src Source, opts Options) *Scale {
	return &Scale{
		src:     src,
		rounder: NewRounder(opts.Increment, opts.Hysteresis),
	}
}

// Reconfigure changes the quantisation parameters without losing the
// displayed value.
func (s *Scale) Reconfigure(opts Options) {
	s.rounder.Increment = opts.Increment
	s.rounder.Hysteresis = opts.Hysteresis
}

// Condition runs one conditioning pass: net weight is the raw weight minus
// tare, and the reported weight is the net weight after hysteresis
// rounding. The result is kept as the reported weight for the rest of the
// tick. changed is true when it differs from the previous pass.
func (s *Scale) Condition() (reported float64, changed bool) {
	net := s.src.RawWeight() - s.tare
	prev := s.reported

	s.reported = s.rounder.Advance(net)
	s.ticks++

	return s.reported, s.ticks == 1 || s.reported != prev
}

// Reported returns the weight computed by the last Condition call.
func (s *Scale) Reported() float64 {
	return s.reported
}

// Tare adds the currently reported weight to the tare offset and returns
// the new offset. The reported weight is already net, so successive tares
// accumulate: taring a second container on top of the first removes both.
func (s *Scale) Tare() float64 {
	old := s.tare
	s.tare += s.reported

	logrus.WithFields(logrus.Fields{
		"oldTare": old,
		"newTare": s.tare,
	}).Debug("tare")

	return s.tare
}

// SetTare replaces the tare offset.
func (s *Scale) SetTare(v float64) {
	logrus.WithFields(logrus.Fields{
		"oldTare": s.tare,
		"newTare": v,
	}).Debug("set tare")

	s.tare = v
}

// TareOffset returns the current tare offset.
func (s *Scale) TareOffset() float64 {
	return s.tare
}

// Zero asks the source to re-zero on the current load and clears the tare
// offset immediately.
func (s *Scale) Zero() {
	s.src.RequestZero()
	s.tare = 0

	logrus.Debug("zero requested")
}

// ZeroComplete forwards the source's zero completion flag.
func (s *Scale) ZeroComplete() bool {
	return s.src.ZeroComplete()
}
