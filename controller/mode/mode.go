package mode

import (
	"github.com/pkg/errors"
	"github.com/reef-pi/hal"
)

// OperatingMode is decided once at boot and never changes for the life of the process.
type OperatingMode int

const (
	// Failsafe keeps only the console and remote update alive. No sampling, no uploads.
	Failsafe OperatingMode = iota
	Normal
)

func (m OperatingMode) String() string {
	if m == Normal {
		return "normal"
	}
	return "failsafe"
}

// Describe is the console rendering of the mode.
func (m OperatingMode) Describe() string {
	if m == Normal {
		return "Run mode"
	}
	return "OTA flash mode"
}

func (m OperatingMode) SamplingEnabled() bool { return m == Normal }

// Input is the mode-select pin. High selects Normal.
type Input interface {
	Read() (bool, error)
}

var _ Input = (hal.DigitalInputPin)(nil)

// Level is a pin fixed at a level, used when no hardware is present.
type Level bool

func (l Level) Read() (bool, error) { return bool(l), nil }

// Reads is how many consecutive reads must all be high to select Normal.
const Reads = 2

// Decide samples the pin Reads times. Any low read, or any read error, selects
// Failsafe so a node with a broken pin can still be reflashed. The returned
// error is informational.
func Decide(pin Input) (OperatingMode, error) {
	for i := 0; i < Reads; i++ {
		high, err := pin.Read()
		if err != nil {
			return Failsafe, errors.Wrap(err, "failed to read mode select pin")
		}
		if !high {
			return Failsafe, nil
		}
	}
	return Normal, nil
}
