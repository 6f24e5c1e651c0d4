package types

import "time"

// ClientInfo describes a protocol client occupying a connection slot.
type ClientInfo struct {
	Slot        int       `json:"slot"`
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connectedAt"`
	Commands    uint64    `json:"commands"`
	Pending     int       `json:"pending"`
}
