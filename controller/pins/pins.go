// Package pins exposes GPIO character device lines as the digital inputs and
// outputs used by the node: the mode-select pin and the sampling indicator.
package pins

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"
)

const consumer = "aqnode"

type Config struct {
	Chip      string `yaml:"chip"`
	Line      int    `yaml:"line"`
	ActiveLow bool   `yaml:"active_low"`
}

func (c Config) String() string {
	return fmt.Sprintf("%s:%d", c.Chip, c.Line)
}

type Input struct {
	cfg  Config
	line *gpiocdev.Line
}

func OpenInput(cfg Config) (*Input, error) {
	l, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line, gpiocdev.AsInput, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to request input line %s", cfg)
	}
	return &Input{cfg: cfg, line: l}, nil
}

// Read reports whether the line is at its active level.
func (i *Input) Read() (bool, error) {
	v, err := i.line.Value()
	if err != nil {
		return false, errors.Wrapf(err, "failed to read line %s", i.cfg)
	}
	return (v == 1) != i.cfg.ActiveLow, nil
}

func (i *Input) Name() string { return i.cfg.String() }
func (i *Input) Close() error { return i.line.Close() }

// Output drives a line. With ActiveLow set, on means the line is pulled low.
type Output struct {
	cfg  Config
	line *gpiocdev.Line

	mu   sync.Mutex
	last bool
}

// OpenOutput requests the line and drives it to its inactive level.
func OpenOutput(cfg Config) (*Output, error) {
	l, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line, gpiocdev.AsOutput(level(false, cfg.ActiveLow)), gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to request output line %s", cfg)
	}
	return &Output{cfg: cfg, line: l}, nil
}

func (o *Output) Write(on bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.line.SetValue(level(on, o.cfg.ActiveLow)); err != nil {
		return errors.Wrapf(err, "failed to set line %s", o.cfg)
	}
	o.last = on
	return nil
}

func (o *Output) LastState() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}

func (o *Output) Name() string { return o.cfg.String() }
func (o *Output) Close() error { return o.line.Close() }

func level(on, activeLow bool) int {
	if on != activeLow {
		return 1
	}
	return 0
}
