package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/jsonc"

	"github.com/charlie0129/netscale/pkg/loadcell"
	"github.com/charlie0129/netscale/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		ListenAddress:      ptr.To(""),
		Port:               ptr.To(21),
		MaxClients:         ptr.To(3),
		Unit:               ptr.To("g"),
		Decimals:           ptr.To(1),
		Width:              ptr.To(10),
		Increment:          ptr.To(0.2),
		Hysteresis:         ptr.To(0.05),
		CalibrationFactor:  ptr.To(758.0),
		ScaleFactor:        ptr.To(1.0),
		FilterWindow:       ptr.To(16),
		TickIntervalMs:     ptr.To(10),
		DisplayIntervalMs:  ptr.To(250),
		Source:             ptr.To(SourceSimulated),
		SerialPort:         ptr.To("/dev/ttyUSB0"),
		Serial:             &loadcell.PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "N"},
		ZeroSchedule:       ptr.To(""),
		ZeroMaxWeight:      ptr.To(0.0),
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Unset fields take their defaults.
type RawFileConfig struct {
	ListenAddress      *string               `json:"listenAddress,omitempty" yaml:"listenAddress,omitempty"`
	Port               *int                  `json:"port,omitempty" yaml:"port,omitempty"`
	MaxClients         *int                  `json:"maxClients,omitempty" yaml:"maxClients,omitempty"`
	Unit               *string               `json:"unit,omitempty" yaml:"unit,omitempty"`
	Decimals           *int                  `json:"decimals,omitempty" yaml:"decimals,omitempty"`
	Width              *int                  `json:"width,omitempty" yaml:"width,omitempty"`
	Increment          *float64              `json:"increment,omitempty" yaml:"increment,omitempty"`
	Hysteresis         *float64              `json:"hysteresis,omitempty" yaml:"hysteresis,omitempty"`
	CalibrationFactor  *float64              `json:"calibrationFactor,omitempty" yaml:"calibrationFactor,omitempty"`
	ScaleFactor        *float64              `json:"scaleFactor,omitempty" yaml:"scaleFactor,omitempty"`
	FilterWindow       *int                  `json:"filterWindow,omitempty" yaml:"filterWindow,omitempty"`
	TickIntervalMs     *int                  `json:"tickIntervalMs,omitempty" yaml:"tickIntervalMs,omitempty"`
	DisplayIntervalMs  *int                  `json:"displayIntervalMs,omitempty" yaml:"displayIntervalMs,omitempty"`
	Source             *string               `json:"source,omitempty" yaml:"source,omitempty"`
	SerialPort         *string               `json:"serialPort,omitempty" yaml:"serialPort,omitempty"`
	Serial             *loadcell.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
	ZeroSchedule       *string               `json:"zeroSchedule,omitempty" yaml:"zeroSchedule,omitempty"`
	ZeroMaxWeight      *float64              `json:"zeroMaxWeight,omitempty" yaml:"zeroMaxWeight,omitempty"`
	AllowNonRootAccess *bool                 `json:"allowNonRootAccess,omitempty" yaml:"allowNonRootAccess,omitempty"`
}

// DefaultRawFileConfig returns a config with every field set to its default.
func DefaultRawFileConfig() *RawFileConfig {
	raw, _ := NewRawFileConfigFromConfig(NewFileFromConfig(nil, ""))
	return raw
}

// NewRawFileConfigFromConfig returns the effective values of c with every
// field set.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	rawConfig := &RawFileConfig{
		ListenAddress:      ptr.To(c.ListenAddress()),
		Port:               ptr.To(c.Port()),
		MaxClients:         ptr.To(c.MaxClients()),
		Unit:               ptr.To(c.Unit()),
		Decimals:           ptr.To(c.Decimals()),
		Width:              ptr.To(c.Width()),
		Increment:          ptr.To(c.Increment()),
		Hysteresis:         ptr.To(c.Hysteresis()),
		CalibrationFactor:  ptr.To(c.CalibrationFactor()),
		ScaleFactor:        ptr.To(c.ScaleFactor()),
		FilterWindow:       ptr.To(c.FilterWindow()),
		TickIntervalMs:     ptr.To(int(c.TickInterval() / time.Millisecond)),
		DisplayIntervalMs:  ptr.To(int(c.DisplayInterval() / time.Millisecond)),
		Source:             ptr.To(c.Source()),
		SerialPort:         ptr.To(c.SerialPort()),
		Serial:             ptr.To(c.Serial()),
		ZeroSchedule:       ptr.To(c.ZeroSchedule()),
		ZeroMaxWeight:      ptr.To(c.ZeroMaxWeight()),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

// value returns the field selected by get, or its default when unset.
func value[T any](f *File, get func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := get(f.c); v != nil {
		return *v
	}
	return *get(defaultFileConfig)
}

func (f *File) ListenAddress() string {
	return value(f, func(c *RawFileConfig) *string { return c.ListenAddress })
}

func (f *File) Port() int {
	return value(f, func(c *RawFileConfig) *int { return c.Port })
}

// Addr returns the TCP address the protocol server binds.
func (f *File) Addr() string {
	return net.JoinHostPort(f.ListenAddress(), strconv.Itoa(f.Port()))
}

func (f *File) MaxClients() int {
	return value(f, func(c *RawFileConfig) *int { return c.MaxClients })
}

func (f *File) Unit() string {
	return value(f, func(c *RawFileConfig) *string { return c.Unit })
}

func (f *File) Decimals() int {
	return value(f, func(c *RawFileConfig) *int { return c.Decimals })
}

func (f *File) Width() int {
	return value(f, func(c *RawFileConfig) *int { return c.Width })
}

func (f *File) Increment() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.Increment })
}

func (f *File) Hysteresis() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.Hysteresis })
}

func (f *File) CalibrationFactor() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.CalibrationFactor })
}

func (f *File) ScaleFactor() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.ScaleFactor })
}

func (f *File) FilterWindow() int {
	return value(f, func(c *RawFileConfig) *int { return c.FilterWindow })
}

func (f *File) Source() string {
	return value(f, func(c *RawFileConfig) *string { return c.Source })
}

func (f *File) SerialPort() string {
	return value(f, func(c *RawFileConfig) *string { return c.SerialPort })
}

// Serial returns the serial line settings. Unset members take 115200 8N1.
func (f *File) Serial() loadcell.PortOptions {
	opts := value(f, func(c *RawFileConfig) *loadcell.PortOptions { return c.Serial })
	if normalized, err := opts.Normalize(); err == nil {
		return normalized
	}
	return opts
}

func (f *File) TickInterval() time.Duration {
	return time.Duration(value(f, func(c *RawFileConfig) *int { return c.TickIntervalMs })) * time.Millisecond
}

func (f *File) DisplayInterval() time.Duration {
	return time.Duration(value(f, func(c *RawFileConfig) *int { return c.DisplayIntervalMs })) * time.Millisecond
}

func (f *File) ZeroSchedule() string {
	return value(f, func(c *RawFileConfig) *string { return c.ZeroSchedule })
}

func (f *File) ZeroMaxWeight() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.ZeroMaxWeight })
}

func (f *File) AllowNonRootAccess() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) SetZeroSchedule(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.ZeroSchedule = &s
}

func (f *File) Validate() error {
	if f.Increment() <= 0 {
		return fmt.Errorf("increment must be greater than 0, got %g", f.Increment())
	}
	if f.Hysteresis() < 0 {
		return fmt.Errorf("hysteresis must not be negative, got %g", f.Hysteresis())
	}
	if d := f.Decimals(); d < 0 || d > 6 {
		return fmt.Errorf("decimals must be between 0 and 6, got %d", d)
	}
	if f.Width() < 0 {
		return fmt.Errorf("width must not be negative, got %d", f.Width())
	}
	if f.MaxClients() < 1 {
		return fmt.Errorf("maxClients must be at least 1, got %d", f.MaxClients())
	}
	if p := f.Port(); p < 1 || p > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", p)
	}
	if f.CalibrationFactor() == 0 {
		return fmt.Errorf("calibrationFactor must not be 0")
	}
	if f.ScaleFactor() == 0 {
		return fmt.Errorf("scaleFactor must not be 0")
	}
	if f.FilterWindow() < 1 {
		return fmt.Errorf("filterWindow must be at least 1, got %d", f.FilterWindow())
	}
	if f.TickInterval() < time.Millisecond {
		return fmt.Errorf("tickIntervalMs must be at least 1, got %v", f.TickInterval())
	}
	if f.DisplayInterval() < 0 {
		return fmt.Errorf("displayIntervalMs must not be negative, got %v", f.DisplayInterval())
	}
	if f.ZeroMaxWeight() < 0 {
		return fmt.Errorf("zeroMaxWeight must not be negative, got %g", f.ZeroMaxWeight())
	}
	if expr := f.ZeroSchedule(); expr != "" {
		if _, err := ParseSchedule(expr); err != nil {
			return pkgerrors.Wrapf(err, "invalid zeroSchedule %q", expr)
		}
	}
	switch f.Source() {
	case SourceSimulated, SourceSerial:
	default:
		return fmt.Errorf("source must be %q or %q, got %q", SourceSimulated, SourceSerial, f.Source())
	}
	if _, err := value(f, func(c *RawFileConfig) *loadcell.PortOptions { return c.Serial }).Normalize(); err != nil {
		return pkgerrors.Wrap(err, "invalid serial options")
	}

	return nil
}

// Load reads the file. JSON with comments and trailing commas is accepted.
// A missing or empty file means all defaults. An invalid file leaves the
// current values untouched.
func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(jsonc.ToJSON(b), &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}

	if err := NewFileFromConfig(&conf, f.filepath).Validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"addr":               f.Addr(),
		"maxClients":         f.MaxClients(),
		"unit":               f.Unit(),
		"decimals":           f.Decimals(),
		"width":              f.Width(),
		"increment":          f.Increment(),
		"hysteresis":         f.Hysteresis(),
		"calibrationFactor":  f.CalibrationFactor(),
		"scaleFactor":        f.ScaleFactor(),
		"filterWindow":       f.FilterWindow(),
		"source":             f.Source(),
		"serialPort":         f.SerialPort(),
		"tickInterval":       f.TickInterval().String(),
		"displayInterval":    f.DisplayInterval().String(),
		"zeroSchedule":       f.ZeroSchedule(),
		"zeroMaxWeight":      f.ZeroMaxWeight(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
	}
}
