package gassensor

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/reef-pi/drivers/ads1x15"
	"github.com/reef-pi/hal"
	"github.com/reef-pi/rpi/i2c"
)

type ADS1115Config struct {
	Address byte `yaml:"address"`
	Channel int  `yaml:"channel"`
	// Params are passed to the ads1x15 driver on top of its defaults,
	// e.g. per channel gain settings.
	Params map[string]interface{} `yaml:"params"`
}

// ads1115Params builds the driver parameters from the factory defaults.
func ads1115Params(f hal.DriverFactory, cfg ADS1115Config) map[string]interface{} {
	params := make(map[string]interface{})
	for _, p := range f.GetParameters() {
		params[p.Name] = p.Default
	}
	for k, v := range cfg.Params {
		params[k] = v
	}
	if cfg.Address != 0 {
		params["Address"] = int(cfg.Address)
	}
	return params
}

// NewADS1115 opens one single-ended channel of an ADS1115 as a Source. The
// returned driver must be closed by the caller.
func NewADS1115(bus i2c.Bus, cfg ADS1115Config) (*PinSource, hal.Driver, error) {
	if cfg.Channel < 0 || cfg.Channel > 3 {
		return nil, nil, fmt.Errorf("ads1115: invalid channel %d", cfg.Channel)
	}
	f := ads1x15.Ads1115Factory()
	params := ads1115Params(f, cfg)
	if ok, failures := f.ValidateParameters(params); !ok {
		return nil, nil, fmt.Errorf("ads1115: invalid parameters %v", failures)
	}
	d, err := f.NewDriver(params, bus)
	if err != nil {
		return nil, nil, errors.Wrap(err, "ads1115: failed to create driver")
	}
	ad, ok := d.(hal.AnalogInputDriver)
	if !ok {
		d.Close()
		return nil, nil, fmt.Errorf("ads1115: driver %s has no analog inputs", d.Metadata().Name)
	}
	pin, err := ad.AnalogInputPin(cfg.Channel)
	if err != nil {
		d.Close()
		return nil, nil, errors.Wrapf(err, "ads1115: channel %d", cfg.Channel)
	}
	return NewPinSource(pin, 1), d, nil
}
