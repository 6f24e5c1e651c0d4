package loadcell

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// pipePort is a Porter fed by the test through w.
type pipePort struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu     sync.Mutex
	closed bool
}

func newPipePort() *pipePort {
	r, w := io.Pipe()
	return &pipePort{r: r, w: w}
}

func (p *pipePort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipePort) Write(b []byte) (int, error) { return len(b), nil }
func (p *pipePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	_ = p.w.Close()
	return p.r.Close()
}

func (p *pipePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// updateUntil calls Update until n samples have been consumed.
func updateUntil(t *testing.T, c *Cell, n int) {
	t.Helper()
	got := 0
	require.Eventually(t, func() bool {
		got += c.Update()
		return got >= n
	}, 2*time.Second, time.Millisecond)
}

func TestParseSample(t *testing.T) {
	tests := []struct {
		line   string
		want   float64
		wantOK bool
	}{
		{"75800", 75800, true},
		{"  -1234.5 \r", -1234.5, true},
		{"75800,12", 75800, true},
		{"75800 ok", 75800, true},
		{"", 0, false},
		{"# hx711 bridge v2", 0, false},
		{",,,", 0, false},
		{"READY", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := parseSample(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCell_ReadsCalibratedWeight(t *testing.T) {
	port := newPipePort()
	c := NewCell(port, CellOptions{CalibrationFactor: 100, ScaleFactor: 1, FilterWindow: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	go func() {
		_, _ = io.WriteString(port.w, "# banner\n1000\n3000\n")
	}()

	updateUntil(t, c, 2)
	assert.InDelta(t, 20.0, c.RawWeight(), 1e-9)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Samples)
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.True(t, stats.Settled)
}

func TestCell_ScaleFactor(t *testing.T) {
	port := newPipePort()
	c := NewCell(port, CellOptions{CalibrationFactor: 1000, ScaleFactor: 1000, FilterWindow: 1})
	c.Start(context.Background())
	defer c.Close()

	go func() {
		_, _ = io.WriteString(port.w, "42\n")
	}()

	updateUntil(t, c, 1)
	assert.InDelta(t, 42.0, c.RawWeight(), 1e-9)
}

func TestCell_Zero(t *testing.T) {
	port := newPipePort()
	c := NewCell(port, CellOptions{CalibrationFactor: 10, FilterWindow: 2, ZeroSamples: 2})
	c.Start(context.Background())
	defer c.Close()

	go func() {
		_, _ = io.WriteString(port.w, "500\n500\n")
	}()
	updateUntil(t, c, 2)
	require.InDelta(t, 50.0, c.RawWeight(), 1e-9)

	c.RequestZero()
	assert.True(t, c.Stats().Zeroing)
	assert.False(t, c.ZeroComplete())

	go func() {
		_, _ = io.WriteString(port.w, "500\n500\n")
	}()
	updateUntil(t, c, 2)

	assert.True(t, c.ZeroComplete())
	assert.False(t, c.Stats().Zeroing)
	assert.InDelta(t, 0.0, c.RawWeight(), 1e-9)
	assert.InDelta(t, 500.0, c.Stats().ZeroOffset, 1e-9)
}

func TestCell_DropsWhenNotUpdated(t *testing.T) {
	port := newPipePort()
	c := NewCell(port, CellOptions{SampleBuffer: 1})
	c.Start(context.Background())
	defer c.Close()

	go func() {
		_, _ = io.WriteString(port.w, "1\n2\n3\n")
	}()

	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.Samples == 3
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, uint64(2), c.Stats().Dropped)
	assert.Equal(t, 1, c.Update())
}

func TestCell_StopsOnContextCancel(t *testing.T) {
	port := newPipePort()
	c := NewCell(port, CellOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	cancel()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}
	assert.True(t, port.isClosed())
	assert.NoError(t, c.Close(), "closing twice is harmless")
}

func TestCell_WithSimulatedPort(t *testing.T) {
	port := NewSimulatedPort(7580, 0, time.Millisecond)
	c := NewCell(port, CellOptions{FilterWindow: 4})
	c.Start(context.Background())
	defer c.Close()

	updateUntil(t, c, 4)
	assert.InDelta(t, 10.0, c.RawWeight(), 1e-9)

	port.SetCounts(15160)
	require.Eventually(t, func() bool {
		c.Update()
		return c.RawWeight() > 19.99 && c.RawWeight() < 20.01
	}, 2*time.Second, time.Millisecond)
}

func TestPortOptions_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{name: "defaults", in: PortOptions{}, want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"}},
		{name: "even parity word", in: PortOptions{BaudRate: 9600, Parity: "even"}, want: PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"}},
		{name: "odd two stop bits", in: PortOptions{StopBits: 2, Parity: "o"}, want: PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 2, Parity: "O"}},
		{name: "bad data bits", in: PortOptions{DataBits: 9}, wantErr: true},
		{name: "bad stop bits", in: PortOptions{StopBits: 3}, wantErr: true},
		{name: "bad parity", in: PortOptions{Parity: "mark"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptions_SerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.EvenParity,
		StopBits: serial.TwoStopBits,
	}, mode)

	_, err = PortOptions{Parity: "x"}.SerialMode()
	assert.Error(t, err)
}
