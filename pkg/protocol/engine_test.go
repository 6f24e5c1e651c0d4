package protocol

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/netscale/pkg/scale"
)

type stubSource struct {
	raw   float64
	zeros int
}

func (s *stubSource) RawWeight() float64 { return s.raw }
func (s *stubSource) RequestZero()       { s.zeros++ }
func (s *stubSource) ZeroComplete() bool { return false }

func newScale(raw float64) (*scale.Scale, *stubSource) {
	src := &stubSource{raw: raw}
	sc := scale.New(src, scale.Options{Increment: 0.2, Hysteresis: 0.05})
	sc.Condition()
	return sc, src
}

func TestEngine_Handle(t *testing.T) {
	tests := []struct {
		name    string
		raw     float64
		tare    float64
		line    string
		want    Response
		wantErr error
		newTare float64
	}{
		{name: "S", raw: 123.4, line: "S", want: "S S     123.4 g"},
		{name: "SI", raw: 123.4, line: "SI", want: "S S     123.4 g"},
		{name: "T", raw: 12, line: "T", want: "T S      12.0 g", newTare: 12},
		{name: "TA query", raw: 12, tare: 2.5, line: "TA", want: "TA A       2.5 g", newTare: 2.5},
		{name: "Z", raw: 12, tare: 3, line: "Z", want: "Z A"},
		{name: "TA set answers with weight", raw: 50, line: "TA7.5", want: "TA A      50.0 g", newTare: 7.5},
		{name: "TA set negative", raw: 50, line: "TA-1.25", want: "TA A      50.0 g", newTare: -1.25},
		{name: "TA set literal zero", raw: 50, tare: 4, line: "TA0", want: "TA A      50.0 g", newTare: 0},
		{name: "TA set garbage", raw: 50, tare: 4, line: "TAabc", want: "TA L ", wantErr: ErrParse, newTare: 4},
		{name: "TA set trailing garbage", raw: 50, tare: 4, line: "TA1.5kg", want: "TA L ", wantErr: ErrParse, newTare: 4},
		{name: "TA set NaN", raw: 50, tare: 4, line: "TANaN", want: "TA L ", wantErr: ErrParse, newTare: 4},
		{name: "TA set Inf", raw: 50, tare: 4, line: "TA+Inf", want: "TA L ", wantErr: ErrParse, newTare: 4},
		{name: "lower case is unknown", raw: 1, line: "s", want: "Unknown command: <s>", wantErr: ErrUnknownCommand},
		{name: "whitespace around verb is unknown", raw: 1, line: " S", want: "Unknown command: < S>", wantErr: ErrUnknownCommand},
		{name: "unknown", raw: 1, line: "HELLO", want: "Unknown command: <HELLO>", wantErr: ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc, _ := newScale(tt.raw + tt.tare)
			sc.SetTare(tt.tare)
			sc.Condition()

			e := NewEngine("g", 1)
			got, err := e.Handle(sc, tt.line)
			assert.Equal(t, tt.want, got)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got error %v", err)
			} else {
				assert.NoError(t, err)
			}
			assert.InDelta(t, tt.newTare, sc.TareOffset(), 1e-9)
		})
	}
}

func TestEngine_InvalidTareLeavesOffsetUnchanged(t *testing.T) {
	sc, _ := newScale(20)
	e := NewEngine("g", 1)

	_, err := e.Handle(sc, "TA3")
	require.NoError(t, err)

	got, err := e.Handle(sc, "TA?!")
	require.ErrorIs(t, err, ErrParse)
	assert.Equal(t, Response("TA L "), got)

	got, err = e.Handle(sc, "TA")
	require.NoError(t, err)
	assert.Equal(t, Response("TA A       3.0 g"), got)
}

func TestEngine_TareThenWeigh(t *testing.T) {
	sc, _ := newScale(250)
	e := NewEngine("kg", 2)

	got, _ := e.Handle(sc, "T")
	assert.Equal(t, Response("T S    250.00 kg"), got)

	sc.Condition()
	got, _ = e.Handle(sc, "S")
	assert.Equal(t, Response("S S      0.00 kg"), got)

	// A second tare with the load unchanged adds nothing.
	got, _ = e.Handle(sc, "T")
	assert.Equal(t, Response("T S    250.00 kg"), got)
}

func TestEngine_ZeroRequestsSource(t *testing.T) {
	sc, src := newScale(5)
	sc.SetTare(1)

	_, err := NewEngine("g", 1).Handle(sc, "Z")
	require.NoError(t, err)
	assert.Equal(t, 1, src.zeros)
	assert.Equal(t, 0.0, sc.TareOffset())
}

func TestResponse_Bytes(t *testing.T) {
	assert.Equal(t, []byte("Z A\r\n"), Response("Z A").Bytes())
}
