package daemon

import (
	"github.com/charlie0129/netscale/pkg/loadcell"
)

// simulatedLoad puts a weight on a simulated load cell.
type simulatedLoad struct {
	port *loadcell.SimulatedPort
	// divisor is counts per unit, the same value the Cell divides by.
	divisor float64
}

func (s *simulatedLoad) SetWeight(w float64) {
	s.port.SetCounts(w * s.divisor)
}
