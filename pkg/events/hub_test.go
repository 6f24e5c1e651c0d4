package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHub_PublishSubscribe(t *testing.T) {
	h := NewEventHub()
	a := h.Subscribe()
	b := h.Subscribe()
	assert.Equal(t, 2, h.Subscribers())

	h.Publish(WeightChanged, WeightChangedEvent{Weight: 12.4, Tare: 1, Unit: "g"})

	for _, ch := range []chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, WeightChanged, ev.Name)
		payload, err := DecodeAs[WeightChangedEvent](ev)
		require.NoError(t, err)
		assert.Equal(t, 12.4, payload.Weight)
		assert.Equal(t, "g", payload.Unit)
	}

	h.Unsubscribe(a)
	_, ok := <-a
	assert.False(t, ok, "channel is closed on unsubscribe")
	h.Unsubscribe(a)
	assert.Equal(t, 1, h.Subscribers())
}

func TestEventHub_DropsForSlowSubscriber(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	for i := 0; i < 100; i++ {
		h.Publish(ZeroComplete, ZeroCompleteEvent{Ts: int64(i)})
	}
	assert.Len(t, ch, cap(ch))
}

func TestEventHub_Nil(t *testing.T) {
	var h *EventHub
	h.Publish(Client, ClientEvent{Action: ClientRejected})
	assert.Equal(t, 0, h.Subscribers())
}

func TestDecodeAs(t *testing.T) {
	v, err := DecodeAs[ClientEvent](Event{Name: Client})
	require.NoError(t, err)
	assert.Equal(t, ClientEvent{}, v)

	_, err = DecodeAs[ClientEvent](Event{Name: Client, Data: []byte("{")})
	assert.Error(t, err)

	v, err = DecodeAs[ClientEvent](Event{Name: Client, Data: []byte(`{"action":"connected","slot":2}`)})
	require.NoError(t, err)
	assert.Equal(t, ClientConnected, v.Action)
	assert.Equal(t, 2, v.Slot)
}

func TestEventHub_Close(t *testing.T) {
	h := NewEventHub()
	ch := h.Subscribe()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers())
	h.Unsubscribe(ch)
}
