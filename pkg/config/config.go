package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/netscale/pkg/loadcell"
)

// Source kinds.
const (
	SourceSimulated = "simulated"
	SourceSerial    = "serial"
)

type Config interface {
	ListenAddress() string
	Port() int
	// Addr is ListenAddress and Port joined for net.Listen.
	Addr() string
	MaxClients() int

	Unit() string
	Decimals() int
	Width() int
	Increment() float64
	Hysteresis() float64

	CalibrationFactor() float64
	ScaleFactor() float64
	FilterWindow() int
	Source() string
	SerialPort() string
	Serial() loadcell.PortOptions

	TickInterval() time.Duration
	DisplayInterval() time.Duration

	ZeroSchedule() string
	ZeroMaxWeight() float64

	AllowNonRootAccess() bool

	SetAllowNonRootAccess(bool)
	SetZeroSchedule(string)

	// Validate checks the effective values.
	Validate() error
	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	LogrusFields() logrus.Fields
}
