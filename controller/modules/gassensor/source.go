package gassensor

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"github.com/reef-pi/hal"
)

// Source returns raw analog counts from the gas sensor.
type Source interface {
	Read() (int, error)
}

// PinSource reads a hal analog input and scales its value to integer counts.
type PinSource struct {
	pin   hal.AnalogInputPin
	scale float64
}

func NewPinSource(pin hal.AnalogInputPin, scale float64) *PinSource {
	if scale == 0 {
		scale = 1
	}
	return &PinSource{pin: pin, scale: scale}
}

func (s *PinSource) Read() (int, error) {
	v, err := s.pin.Value()
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read analog pin %s", s.pin.Name())
	}
	raw := int(math.Round(v * s.scale))
	if raw < 0 {
		// below ground on a single-ended input
		raw = 0
	}
	return raw, nil
}

// Simulated produces counts around a base value.
type Simulated struct {
	mu     sync.Mutex
	base   int
	jitter int
	rnd    *rand.Rand
}

func NewSimulated(base, jitter int, seed int64) *Simulated {
	return &Simulated{base: base, jitter: jitter, rnd: rand.New(rand.NewSource(seed))}
}

func (s *Simulated) Read() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jitter <= 0 {
		return s.base, nil
	}
	return s.base + s.rnd.Intn(2*s.jitter+1) - s.jitter, nil
}
