package events

import "encoding/json"

// Event name constants
const (
	WeightChanged = "weight.changed"
	ZeroComplete  = "zero.complete"
	Client        = "client"
)

// Client event actions.
const (
	ClientConnected    = "connected"
	ClientDisconnected = "disconnected"
	ClientRejected     = "rejected"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// WeightChangedEvent is the typed payload for weight.changed.
type WeightChangedEvent struct {
	Weight    float64 `json:"weight"`
	Tare      float64 `json:"tare"`
	Unit      string  `json:"unit"`
	Formatted string  `json:"formatted"`
	Ts        int64   `json:"ts"`
}

// ZeroCompleteEvent is the typed payload for zero.complete.
type ZeroCompleteEvent struct {
	Ts int64 `json:"ts"`
}

// ClientEvent is the typed payload for client. Slot is -1 for rejected
// connections.
type ClientEvent struct {
	Action string `json:"action"`
	Slot   int    `json:"slot"`
	ID     string `json:"id,omitempty"`
	Remote string `json:"remote"`
	Ts     int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.WeightChangedEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Weight, payload.Unit)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
