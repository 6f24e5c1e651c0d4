// Package loadcell reads a load cell through a serial bridge that streams
// one ADC count per line, and turns the counts into a weight.
package loadcell

import (
	"bufio"
	"context"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/netscale/pkg/netutil"
)

// CellOptions configures a Cell.
type CellOptions struct {
	// CalibrationFactor is the number of ADC counts per unit of weight at
	// a ScaleFactor of 1.
	CalibrationFactor float64
	// ScaleFactor rescales the calibrated weight, e.g. 1000 to report
	// grams from a cell calibrated in kilograms.
	ScaleFactor float64
	// FilterWindow is the number of samples in the moving average.
	FilterWindow int
	// ZeroSamples is the number of samples averaged for a zero.
	ZeroSamples int
	// SampleBuffer is the number of samples held between two Update calls.
	// Samples beyond that are dropped.
	SampleBuffer int
}

// DefaultCellOptions returns options for an HX711 at 10-80 SPS.
func DefaultCellOptions() CellOptions {
	return CellOptions{
		CalibrationFactor: 758.0,
		ScaleFactor:       1.0,
		FilterWindow:      16,
		SampleBuffer:      256,
	}
}

// CellStats counts samples seen by the reader.
type CellStats struct {
	Samples   uint64 `json:"samples"`
	Dropped   uint64 `json:"dropped"`
	Malformed uint64 `json:"malformed"`
	Zeroing   bool   `json:"zeroing"`
	Settled   bool   `json:"settled"`

	// ZeroOffset is the zero reference in raw counts.
	ZeroOffset float64 `json:"zeroOffset"`
}

// Cell is a load cell behind a Porter. A background goroutine parses
// samples; Update moves them into the filter and must be called from the
// goroutine that reads the weight, at least as often as the sensor
// produces samples.
type Cell struct {
	port    Porter
	divisor float64
	filter  *Filter
	samples chan float64

	total     atomic.Uint64
	dropped   atomic.Uint64
	malformed atomic.Uint64

	zeroing    atomic.Bool
	settled    atomic.Bool
	zeroOffset atomic.Uint64 // math.Float64bits

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewCell returns a Cell reading port. Call Start to begin reading.
func NewCell(port Porter, opts CellOptions) *Cell {
	def := DefaultCellOptions()
	if opts.CalibrationFactor == 0 {
		opts.CalibrationFactor = def.CalibrationFactor
	}
	if opts.ScaleFactor == 0 {
		opts.ScaleFactor = def.ScaleFactor
	}
	if opts.SampleBuffer <= 0 {
		opts.SampleBuffer = def.SampleBuffer
	}
	if opts.FilterWindow <= 0 {
		opts.FilterWindow = def.FilterWindow
	}

	return &Cell{
		port:    port,
		divisor: opts.CalibrationFactor / opts.ScaleFactor,
		filter:  NewFilter(opts.FilterWindow, opts.ZeroSamples),
		samples: make(chan float64, opts.SampleBuffer),
		done:    make(chan struct{}),
	}
}

// Start launches the reader goroutine. It stops when ctx is done, the port
// reaches EOF, or Close is called.
func (c *Cell) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		go func() {
			select {
			case <-ctx.Done():
				_ = c.Close()
			case <-c.done:
			}
		}()
		go c.read()
	})
}

func (c *Cell) read() {
	defer close(c.done)

	scan := bufio.NewScanner(c.port)
	for scan.Scan() {
		sample, ok := parseSample(scan.Text())
		if !ok {
			c.malformed.Add(1)
			logrus.WithField("line", scan.Text()).Trace("ignoring malformed load cell line")
			continue
		}

		c.total.Add(1)
		select {
		case c.samples <- sample:
		default:
			// Update is not keeping up with the sensor.
			c.dropped.Add(1)
		}
	}

	if err := scan.Err(); err != nil && !netutil.IsExpectedCloseError(err) {
		logrus.Errorf("load cell reader stopped: %v", err)
		return
	}
	logrus.Debug("load cell reader stopped")
}

// parseSample reads the first field of a line as a count. Blank lines and
// lines starting with '#' carry no sample.
func parseSample(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return 0, false
	}
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Update moves all samples received since the last call into the filter
// without blocking and returns how many there were.
func (c *Cell) Update() int {
	n := 0
	for {
		select {
		case s := <-c.samples:
			c.filter.Add(s)
			n++
		default:
			c.zeroing.Store(c.filter.Zeroing())
			c.settled.Store(c.filter.Settled())
			c.zeroOffset.Store(math.Float64bits(c.filter.Offset()))
			return n
		}
	}
}

// RawWeight returns the filtered weight relative to the zero reference.
func (c *Cell) RawWeight() float64 {
	return c.filter.Counts() / c.divisor
}

// RequestZero starts averaging the next samples into a new zero reference.
func (c *Cell) RequestZero() {
	c.filter.StartZero()
	c.zeroing.Store(true)
}

// ZeroComplete reports, once, that the last requested zero has finished.
func (c *Cell) ZeroComplete() bool {
	return c.filter.ZeroComplete()
}

// Stats returns the reader counters. It is safe to call from any goroutine.
func (c *Cell) Stats() CellStats {
	return CellStats{
		Samples:    c.total.Load(),
		Dropped:    c.dropped.Load(),
		Malformed:  c.malformed.Load(),
		Zeroing:    c.zeroing.Load(),
		Settled:    c.settled.Load(),
		ZeroOffset: math.Float64frombits(c.zeroOffset.Load()),
	}
}

// Done is closed when the reader goroutine has exited.
func (c *Cell) Done() <-chan struct{} {
	return c.done
}

// Close closes the port, which stops the reader.
func (c *Cell) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.port.Close()
	})
	return err
}
