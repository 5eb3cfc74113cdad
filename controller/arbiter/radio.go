package arbiter

import (
	"context"

	"github.com/reef-pi/hal"
)

type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
	// Unknown is reported when the radio state cannot be read. It never
	// satisfies a wait for Connected or Disconnected.
	Unknown
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// Credentials for the wireless network, supplied at boot.
type Credentials struct {
	SSID     string `yaml:"ssid"`
	Password string `yaml:"password"`
}

// Connectivity controls the radio. Connect and Disconnect only initiate the
// change; Status reports where the radio actually is.
type Connectivity interface {
	Connect(ctx context.Context, creds Credentials) error
	Disconnect(keepRadioOn bool) error
	Status() Status
	LocalAddress() string
}

// Indicator is lit while the ADC is held for sampling.
type Indicator interface {
	Write(on bool) error
}

var _ Indicator = (hal.DigitalOutputPin)(nil)

// IndicatorFunc adapts a function to an Indicator.
type IndicatorFunc func(bool) error

func (f IndicatorFunc) Write(on bool) error { return f(on) }
