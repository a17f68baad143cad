// Package config holds the settings of the analysis and of the trigger loop.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

const (
	DefaultDataDir           = "data"
	DefaultOutDir            = "analysis_outputs"
	DefaultHeaderLines       = 13
	DefaultMissingToken      = "NAN"
	DefaultMaxUncertainty    = 0.01
	DefaultMinLatency        = 0.1
	DefaultNFirstMeasurement = 2500
	DefaultReferenceChannel  = "Analog 0"
	DefaultDeviceChannel     = "Analog 2"
	DefaultFigureWidthInch   = 8.5
	DefaultFigureHeightInch  = 5
	DefaultFirstOS           = "win"
	DefaultSecondOS          = "lin"
)

// StudyOS and StudyDevices enumerate the sessions recorded for the study, in
// the order their files are read.
var (
	StudyOS      = []string{"win", "lin"}
	StudyDevices = []string{"leo", "ljr", "lu3", "par", "tlc", "t32", "uno"}
)

// OSLabels maps operating system codes to report labels.
var OSLabels = map[string]string{
	"lin": "Linux",
	"win": "Windows",
}

// DeviceLabels maps channel codes to report labels.
var DeviceLabels = map[string]string{
	"kbd": "Teensy 3.2 Keyboard",
	"par": "Parallel Port",
	"leo": "Arduino Leonardo",
	"uno": "Arduino Uno",
	"t32": "Teensy 3.2",
	"tlc": "Teensy LC",
	"ljr": "LabJack U3 (writeRegister)",
	"lu3": "LabJack U3 (setFIOState)",
}

// OSLabel returns the label of an OS code, or the code itself when unknown.
func OSLabel(code string) string {
	if label, ok := OSLabels[code]; ok {
		return label
	}
	return code
}

// DeviceLabel returns the label of a channel code, or the code itself when unknown.
func DeviceLabel(code string) string {
	if label, ok := DeviceLabels[code]; ok {
		return label
	}
	return code
}

// Criteria are the exclusion thresholds of the cleaner.
type Criteria struct {
	// MaxUncertainty in ms. Rows with a larger clock/network uncertainty are dropped:
	// clock-offset estimation error, not device latency, dominates those observations.
	MaxUncertainty float64
	// MinLatency in ms. Device rows below it are debounce artifacts of the reference channel.
	MinLatency float64
	// NFirstMeasurements caps the number of trials kept per measurement group.
	NFirstMeasurements int
}

// Validate rejects thresholds that would make the cleaner meaningless.
func (c Criteria) Validate() error {
	if c.MaxUncertainty <= 0 {
		return fmt.Errorf("max uncertainty must be positive, got %v", c.MaxUncertainty)
	}
	if c.MinLatency <= 0 {
		return fmt.Errorf("min latency must be positive, got %v", c.MinLatency)
	}
	if c.NFirstMeasurements <= 0 {
		return fmt.Errorf("n first measurements must be positive, got %d", c.NFirstMeasurements)
	}
	return nil
}

// Analysis configures one run of the analysis pipeline.
type Analysis struct {
	Files        []string
	OutDir       string
	HeaderLines  int
	MissingToken string
	// ReferenceChannel and DeviceChannel are the raw channel labels of the files.
	ReferenceChannel string
	DeviceChannel    string
	Criteria         Criteria

	LogScale         bool
	FigureFormats    []string
	FigureWidthInch  float64
	FigureHeightInch float64

	// FirstOS minus SecondOS is the reported OS difference.
	FirstOS  string
	SecondOS string

	// SQLitePath enables the database export when not empty.
	SQLitePath string
}

// StudyFiles returns the default file list below dataDir.
func StudyFiles(dataDir string) []string {
	var files []string
	for _, os := range StudyOS {
		for _, device := range StudyDevices {
			files = append(files, filepath.Join(dataDir, fmt.Sprintf("NLS-%s-%s.txt.gz", os, device)))
		}
	}
	return files
}

// DefaultAnalysis returns the settings used for the study.
func DefaultAnalysis() Analysis {
	return Analysis{
		Files:            StudyFiles(DefaultDataDir),
		OutDir:           DefaultOutDir,
		HeaderLines:      DefaultHeaderLines,
		MissingToken:     DefaultMissingToken,
		ReferenceChannel: DefaultReferenceChannel,
		DeviceChannel:    DefaultDeviceChannel,
		Criteria: Criteria{
			MaxUncertainty:     DefaultMaxUncertainty,
			MinLatency:         DefaultMinLatency,
			NFirstMeasurements: DefaultNFirstMeasurement,
		},
		LogScale:         true,
		FigureFormats:    []string{"png", "pdf", "svg"},
		FigureWidthInch:  DefaultFigureWidthInch,
		FigureHeightInch: DefaultFigureHeightInch,
		FirstOS:          DefaultFirstOS,
		SecondOS:         DefaultSecondOS,
	}
}

// Validate checks the settings before any file is touched.
func (a Analysis) Validate() error {
	if len(a.Files) == 0 {
		return errors.New("no measurement files given")
	}
	if a.OutDir == "" {
		return errors.New("no output directory given")
	}
	if a.HeaderLines < 0 {
		return fmt.Errorf("header lines must not be negative, got %d", a.HeaderLines)
	}
	if a.ReferenceChannel == "" || a.DeviceChannel == "" {
		return errors.New("raw channel labels must not be empty")
	}
	if a.ReferenceChannel == a.DeviceChannel {
		return fmt.Errorf("reference and device channel are both %q", a.ReferenceChannel)
	}
	for _, format := range a.FigureFormats {
		switch format {
		case "png", "pdf", "svg", "eps", "jpg", "tif":
		default:
			return fmt.Errorf("unsupported figure format %q", format)
		}
	}
	return a.Criteria.Validate()
}

const (
	DefaultSerialPort   = "/dev/ttyACM0"
	DefaultBaudRate     = 115200
	DefaultPayload      = "5"
	DefaultPulseWidth   = time.Millisecond
	DefaultMarkerAddr   = "127.0.0.1:16571"
	DefaultStreamName   = "latencytest"
	DefaultEventLogPath = "trigger_events.csv"
)

// Trigger configures the trigger loop that produces the raw measurements.
type Trigger struct {
	Port     string
	BaudRate int
	// PinPort, when set, is a second serial adapter whose DTR line is pulsed
	// for the pulse width on every trial.
	PinPort    string
	Payload    string
	PulseWidth time.Duration
	MarkerAddr string
	StreamName string
	EventLog   string
	// Count of trials to fire, 0 runs until interrupted.
	Count int
}

// DefaultTrigger returns the settings used during the study.
func DefaultTrigger() Trigger {
	return Trigger{
		Port:       DefaultSerialPort,
		BaudRate:   DefaultBaudRate,
		Payload:    DefaultPayload,
		PulseWidth: DefaultPulseWidth,
		MarkerAddr: DefaultMarkerAddr,
		StreamName: DefaultStreamName,
		EventLog:   DefaultEventLogPath,
	}
}

// Validate checks the trigger settings.
func (t Trigger) Validate() error {
	if t.Port == "" {
		return errors.New("no serial port given")
	}
	if t.BaudRate <= 0 {
		return fmt.Errorf("baud rate must be positive, got %d", t.BaudRate)
	}
	if t.PinPort != "" && t.PinPort == t.Port {
		return fmt.Errorf("pin port and trigger port are both %q", t.Port)
	}
	if t.Payload == "" {
		return errors.New("empty trigger payload")
	}
	if t.PulseWidth < 0 {
		return fmt.Errorf("pulse width must not be negative, got %v", t.PulseWidth)
	}
	if t.Count < 0 {
		return fmt.Errorf("count must not be negative, got %d", t.Count)
	}
	return nil
}
