package types

// WeightInfo is the displayed state of the scale.
// This struct is shared between the daemon and client packages.
type WeightInfo struct {
	Weight    float64 `json:"weight"`
	Tare      float64 `json:"tare"`
	Unit      string  `json:"unit"`
	Formatted string  `json:"formatted"`
}
