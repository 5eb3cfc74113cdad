package gassensor

import (
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
	"github.com/pkg/errors"
)

// CurveConfig describes the sensor response as two expressions.
// Resistance maps raw counts to sensor resistance (variable raw).
// Concentration maps sensor resistance (rs) and baseline (r0) to ppm.
// Params are available to both expressions by name.
type CurveConfig struct {
	Resistance    string             `yaml:"resistance"`
	Concentration string             `yaml:"concentration"`
	CleanAirRatio float64            `yaml:"clean_air_ratio"`
	Params        map[string]float64 `yaml:"params"`
}

// ADS1115FullScale is the largest single-ended ADS1115 code.
const ADS1115FullScale = 32767

// DefaultCurve is a power-law fit for an MQ-135 class sensor read through a
// single-ended ADS1115 channel.
var DefaultCurve = CurveConfig{
	Resistance:    "(adc_max - raw) * load / raw",
	Concentration: "a * (rs / r0) ** b",
	CleanAirRatio: 3.6,
	Params: map[string]float64{
		"adc_max": ADS1115FullScale,
		"load":    10,
		"a":       116.6020682,
		"b":       -2.769034857,
	},
}

// Converter turns a raw count into a concentration given a baseline.
type Converter interface {
	PPM(raw int, r0 float64) (float64, error)
}

type Curve struct {
	resistance    *govaluate.EvaluableExpression
	concentration *govaluate.EvaluableExpression
	ratio         float64
	params        map[string]float64
}

func NewCurve(cfg CurveConfig) (*Curve, error) {
	rs, err := govaluate.NewEvaluableExpression(cfg.Resistance)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid resistance expression %q", cfg.Resistance)
	}
	ppm, err := govaluate.NewEvaluableExpression(cfg.Concentration)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid concentration expression %q", cfg.Concentration)
	}
	if cfg.CleanAirRatio <= 0 {
		return nil, fmt.Errorf("clean air ratio must be positive, got %v", cfg.CleanAirRatio)
	}
	return &Curve{resistance: rs, concentration: ppm, ratio: cfg.CleanAirRatio, params: cfg.Params}, nil
}

func (c *Curve) vars() map[string]interface{} {
	v := make(map[string]interface{}, len(c.params)+3)
	for k, p := range c.params {
		v[k] = p
	}
	return v
}

func (c *Curve) eval(expr *govaluate.EvaluableExpression, vars map[string]interface{}) (float64, error) {
	out, err := expr.Evaluate(vars)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to evaluate %q", expr.String())
	}
	f, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("expression %q returned %T, expected a number", expr.String(), out)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("expression %q is not finite for %v", expr.String(), vars)
	}
	return f, nil
}

// clamp keeps raw inside the open interval (0, adc_max) so rail readings
// still produce a finite resistance.
func (c *Curve) clamp(raw float64) float64 {
	if top, ok := c.params["adc_max"]; ok && top > 2 && raw > top-1 {
		raw = top - 1
	}
	if raw < 1 {
		raw = 1
	}
	return raw
}

// Resistance of the sensor for a raw count, which may be a mean of several reads.
func (c *Curve) Resistance(raw float64) (float64, error) {
	vars := c.vars()
	vars["raw"] = c.clamp(raw)
	return c.eval(c.resistance, vars)
}

func (c *Curve) PPM(raw int, r0 float64) (float64, error) {
	if r0 <= 0 {
		return 0, fmt.Errorf("baseline %v out of range", r0)
	}
	rs, err := c.Resistance(float64(raw))
	if err != nil {
		return 0, err
	}
	vars := c.vars()
	vars["raw"] = c.clamp(float64(raw))
	vars["rs"] = rs
	vars["r0"] = r0
	return c.eval(c.concentration, vars)
}

// Baseline derives r0 from a clean-air raw count.
func (c *Curve) Baseline(raw float64) (float64, error) {
	rs, err := c.Resistance(raw)
	if err != nil {
		return 0, err
	}
	return rs / c.ratio, nil
}
