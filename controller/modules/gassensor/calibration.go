package gassensor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reef-pi/aqnode/controller/arbiter"
	"github.com/reef-pi/aqnode/controller/scheduler"
)

var ErrCalibrationUnavailable = errors.New("calibration unavailable")

type CalibrationConfig struct {
	Samples int           `yaml:"samples"`
	Retries int           `yaml:"retries"`
	Backoff time.Duration `yaml:"backoff"`
}

type Baseliner interface {
	Baseline(raw float64) (float64, error)
}

type radioStatus interface {
	Status() arbiter.Status
}

// Calibrator measures the clean-air baseline. It must run while the radio is
// off, with the ADC held.
type Calibrator struct {
	source Source
	curve  Baseliner
	radio  radioStatus
	clock  scheduler.Clock
	settle time.Duration
	cfg    CalibrationConfig
}

func NewCalibrator(source Source, curve Baseliner, radio radioStatus, clock scheduler.Clock, settle time.Duration, cfg CalibrationConfig) *Calibrator {
	if cfg.Samples <= 0 {
		cfg.Samples = BatchSize
	}
	if clock == nil {
		clock = scheduler.SystemClock()
	}
	return &Calibrator{source: source, curve: curve, radio: radio, clock: clock, settle: settle, cfg: cfg}
}

// Calibrate returns the measured baseline, or ErrCalibrationUnavailable when
// the radio is active or the sensor could not be read.
func (c *Calibrator) Calibrate(ctx context.Context) (float64, error) {
	if s := c.radio.Status(); s != arbiter.Disconnected {
		return 0, errors.Wrapf(ErrCalibrationUnavailable, "radio is %s", s)
	}
	var r0 float64
	b := backoff.NewExponentialBackOff()
	if c.cfg.Backoff > 0 {
		b.InitialInterval = c.cfg.Backoff
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.Retries)), ctx)
	err := backoff.RetryNotify(func() error {
		v, err := c.measure(ctx)
		if err != nil {
			return err
		}
		r0 = v
		return nil
	}, policy, func(err error, d time.Duration) {
		log.WithField("module", "gassensor").WithError(err).Infoln("calibration attempt failed, retrying in", d)
	})
	if err != nil {
		return 0, errors.Wrap(ErrCalibrationUnavailable, err.Error())
	}
	return r0, nil
}

func (c *Calibrator) measure(ctx context.Context) (float64, error) {
	sum := 0
	for i := 0; i < c.cfg.Samples; i++ {
		if i > 0 {
			if err := scheduler.Wait(ctx, c.clock, c.settle); err != nil {
				return 0, backoff.Permanent(err)
			}
		}
		raw, err := c.source.Read()
		if err != nil {
			return 0, err
		}
		sum += raw
	}
	r0, err := c.curve.Baseline(float64(sum) / float64(c.cfg.Samples))
	if err != nil {
		return 0, err
	}
	if r0 <= 0 {
		return 0, errors.Errorf("baseline %v out of range", r0)
	}
	return r0, nil
}
