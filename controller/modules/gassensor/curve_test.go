package gassensor

import (
	"math"
	"testing"
)

func TestDefaultCurve(t *testing.T) {
	c, err := NewCurve(DefaultCurve)
	if err != nil {
		t.Fatal(err)
	}
	rs, err := c.Resistance(2000)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(rs-153.835) > 1e-9 {
		t.Fatal("unexpected resistance:", rs)
	}
	r0, err := c.Baseline(2000)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(r0-153.835/3.6) > 1e-9 {
		t.Fatal("unexpected baseline:", r0)
	}
	// In clean air rs/r0 equals the clean air ratio
	ppm, err := c.PPM(2000, r0)
	if err != nil {
		t.Fatal(err)
	}
	want := 116.6020682 * math.Pow(3.6, -2.769034857)
	if math.Abs(ppm-want) > 1e-6 {
		t.Errorf("expected %v ppm, got %v", want, ppm)
	}
}

func TestCurveErrors(t *testing.T) {
	if _, err := NewCurve(CurveConfig{Resistance: "raw +", Concentration: "rs", CleanAirRatio: 1}); err == nil {
		t.Error("invalid expression should fail")
	}
	if _, err := NewCurve(CurveConfig{Resistance: "raw", Concentration: "rs"}); err == nil {
		t.Error("missing clean air ratio should fail")
	}
	c, err := NewCurve(CurveConfig{Resistance: "raw * 2", Concentration: "rs / r0", CleanAirRatio: 1})
	if err != nil {
		t.Fatal(err)
	}
	if ppm, err := c.PPM(0, 1); err != nil || ppm != 2 {
		t.Error("zero raw value should clamp to one count, got", ppm, err)
	}
	if _, err := c.PPM(10, 0); err == nil {
		t.Error("zero baseline should fail")
	}
	ppm, err := c.PPM(10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if ppm != 5 {
		t.Error("expected 5, got", ppm)
	}
}

func TestDefaultCurveFullRange(t *testing.T) {
	c, err := NewCurve(DefaultCurve)
	if err != nil {
		t.Fatal(err)
	}
	for _, raw := range []int{0, 1, 2000, 8000, 20000, ADS1115FullScale - 1, ADS1115FullScale, ADS1115FullScale + 100} {
		ppm, err := c.PPM(raw, 76.63)
		if err != nil {
			t.Errorf("raw %d: %v", raw, err)
			continue
		}
		if math.IsNaN(ppm) || math.IsInf(ppm, 0) || ppm < 0 {
			t.Errorf("raw %d: unexpected ppm %v", raw, ppm)
		}
	}
	r0, err := c.Baseline(8000)
	if err != nil || r0 <= 0 {
		t.Error("expected a positive baseline at 8000 counts, got", r0, err)
	}
}
