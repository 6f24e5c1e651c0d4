package loadcell

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"
)

// SimulatedPort emits ADC counts like a serial bridge would, for running
// the daemon without hardware.
type SimulatedPort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu     sync.Mutex
	counts float64
	noise  float64

	stop      chan struct{}
	closeOnce sync.Once
}

// NewSimulatedPort returns a port that writes one line of counts every
// interval. Each sample is counts plus uniform noise in [-noise, noise].
func NewSimulatedPort(counts, noise float64, interval time.Duration) *SimulatedPort {
	r, w := io.Pipe()
	p := &SimulatedPort{
		r:      r,
		w:      w,
		counts: counts,
		noise:  noise,
		stop:   make(chan struct{}),
	}

	go p.generate(interval)

	return p
}

func (p *SimulatedPort) generate(interval time.Duration) {
	defer p.w.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	//nolint:gosec // simulated sensor noise
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		sample := p.counts + (rng.Float64()*2-1)*p.noise
		p.mu.Unlock()

		if _, err := fmt.Fprintf(p.w, "%.0f\n", sample); err != nil {
			return
		}
	}
}

// SetCounts moves the simulated load.
func (p *SimulatedPort) SetCounts(counts float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts = counts
}

// Read implements io.Reader.
func (p *SimulatedPort) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Write discards what is sent to the device.
func (p *SimulatedPort) Write(b []byte) (int, error) {
	return len(b), nil
}

// Close stops the generator and unblocks readers.
func (p *SimulatedPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		_ = p.r.Close()
	})
	return nil
}
