package loadcell

import (
	"gonum.org/v1/gonum/stat"
)

// Filter smooths raw ADC counts with a moving average and keeps the zero
// reference of the sensor. It is not safe for concurrent use.
type Filter struct {
	window  []float64
	size    int
	next    int
	full    bool
	offset  float64
	zeroing []float64
	zeroN   int
	zeroed  bool
}

// NewFilter returns a Filter averaging the last size samples. Zeroing
// averages the next zeroSamples samples; zeroSamples <= 0 uses size.
func NewFilter(size, zeroSamples int) *Filter {
	if size <= 0 {
		size = 1
	}
	if zeroSamples <= 0 {
		zeroSamples = size
	}
	return &Filter{
		window: make([]float64, 0, size),
		size:   size,
		zeroN:  zeroSamples,
	}
}

// Add records one sample.
func (f *Filter) Add(sample float64) {
	if len(f.window) < f.size {
		f.window = append(f.window, sample)
	} else {
		f.window[f.next] = sample
		f.full = true
	}
	f.next = (f.next + 1) % f.size

	if f.zeroing != nil {
		f.zeroing = append(f.zeroing, sample)
		if len(f.zeroing) >= f.zeroN {
			f.offset = stat.Mean(f.zeroing, nil)
			f.zeroing = nil
			f.zeroed = true
		}
	}
}

// Counts returns the smoothed counts relative to the zero reference.
func (f *Filter) Counts() float64 {
	if len(f.window) == 0 {
		return 0
	}
	return stat.Mean(f.window, nil) - f.offset
}

// Offset returns the zero reference in raw counts.
func (f *Filter) Offset() float64 {
	return f.offset
}

// Settled reports whether the moving-average window has been filled once.
func (f *Filter) Settled() bool {
	return f.full || len(f.window) == f.size
}

// StartZero begins collecting samples for a new zero reference. A zero that
// is already in progress starts over.
func (f *Filter) StartZero() {
	f.zeroing = make([]float64, 0, f.zeroN)
}

// Zeroing reports whether a zero is in progress.
func (f *Filter) Zeroing() bool {
	return f.zeroing != nil
}

// ZeroComplete reports a finished zero once and then clears the flag.
func (f *Filter) ZeroComplete() bool {
	done := f.zeroed
	f.zeroed = false
	return done
}
