package loadcell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilter_MovingAverage(t *testing.T) {
	f := NewFilter(4, 0)
	assert.Equal(t, 0.0, f.Counts())

	f.Add(10)
	f.Add(20)
	assert.InDelta(t, 15.0, f.Counts(), 1e-9)
	assert.False(t, f.Settled())

	f.Add(30)
	f.Add(40)
	assert.True(t, f.Settled())
	assert.InDelta(t, 25.0, f.Counts(), 1e-9)

	// Oldest sample (10) is replaced.
	f.Add(50)
	assert.InDelta(t, 35.0, f.Counts(), 1e-9)
}

func TestFilter_Zero(t *testing.T) {
	f := NewFilter(2, 3)
	f.Add(1000)
	f.Add(1000)
	assert.InDelta(t, 1000.0, f.Counts(), 1e-9)

	f.StartZero()
	assert.True(t, f.Zeroing())
	assert.False(t, f.ZeroComplete())

	f.Add(1000)
	f.Add(1010)
	assert.True(t, f.Zeroing())
	f.Add(1020)

	assert.False(t, f.Zeroing())
	assert.InDelta(t, 1010.0, f.Offset(), 1e-9)
	assert.True(t, f.ZeroComplete())
	assert.False(t, f.ZeroComplete(), "completion is reported once")

	// Window holds 1010 and 1020.
	assert.InDelta(t, 5.0, f.Counts(), 1e-9)
}

func TestFilter_RestartZero(t *testing.T) {
	f := NewFilter(1, 2)
	f.StartZero()
	f.Add(5)
	f.StartZero()
	f.Add(7)
	assert.True(t, f.Zeroing(), "restart discards collected samples")
	f.Add(9)
	assert.InDelta(t, 8.0, f.Offset(), 1e-9)
}

func TestNewFilter_Defaults(t *testing.T) {
	f := NewFilter(0, 0)
	f.Add(3)
	assert.True(t, f.Settled())
	assert.InDelta(t, 3.0, f.Counts(), 1e-9)
}
