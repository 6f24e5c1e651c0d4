package types

import "github.com/charlie0129/netscale/pkg/loadcell"

// Stats are the daemon counters reported by the stats endpoint.
type Stats struct {
	Ticks       uint64 `json:"ticks"`
	MissedTicks uint64 `json:"missedTicks"`

	// ContinuousTicks is how many of the ticks in the last minute followed
	// the previous one without a missed-tick gap.
	ContinuousTicks int `json:"continuousTicks"`

	// MaxTickGapMs is the longest gap between two ticks in the last minute.
	MaxTickGapMs int64  `json:"maxTickGapMs"`
	Commands     uint64 `json:"commands"`
	Accepted     uint64 `json:"accepted"`
	Rejected     uint64 `json:"rejected"`
	Clients      int    `json:"clients"`
	MaxClients   int    `json:"maxClients"`
	Subscribers  int    `json:"subscribers"`
	NextAutoZero string `json:"nextAutoZero,omitempty"`

	Source loadcell.CellStats `json:"source"`
}
