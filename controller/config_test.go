package controller

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/reef-pi/aqnode/controller/modules/gassensor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "aqnode.yml")
	if err := os.WriteFile(p, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("AQNODE_WIFI_PASSWORD", "from-env")
	p := writeConfig(t, `
device_id: kitchen
sample_schedule: 30s
radio:
  credentials:
    ssid: lab
    password: from-file
  timeouts:
    connect_timeout: 5s
sensor:
  settle: 500ms
  curve:
    params:
      a: 100
store:
  backend: mqtt
  mqtt:
    broker: tcp://broker:1883
`)
	c, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.DeviceID != "kitchen" || c.SampleSchedule != "30s" {
		t.Error("file values not applied:", c.DeviceID, c.SampleSchedule)
	}
	if c.Radio.Credentials.Password != "from-env" {
		t.Error("environment should override the radio password")
	}
	if c.Radio.Timeouts.ConnectTimeout != 5*time.Second || c.Sensor.Settle != 500*time.Millisecond {
		t.Error("durations not parsed")
	}
	if c.Store.MQTT.ClientID != "kitchen" {
		t.Error("mqtt client id should default to the device id, got", c.Store.MQTT.ClientID)
	}
	if c.Sensor.Curve.Params["a"] != 100 || c.Sensor.Curve.Params["load"] != 10 {
		t.Error("curve params should merge with defaults, got", c.Sensor.Curve.Params)
	}
	if DefaultConfig().Sensor.Curve.Params["a"] == 100 {
		t.Error("loading a config must not alter the defaults")
	}
	if c.HeartbeatSchedule != "15s" || !c.Features.Upload {
		t.Error("defaults not kept")
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	cases := map[string]string{
		"no broker":      "store:\n  backend: mqtt\n",
		"bad backend":    "store:\n  backend: firebase\n",
		"bad source":     "sensor:\n  source: mq135\n",
		"bad reboot":     "reboot_mode: halt\n",
		"zero r0":        "sensor:\n  default_r0: 0\nfeatures:\n  upload: false\n",
		"empty device":   "device_id: \"\"\nfeatures:\n  upload: false\n",
		"unparsable yml": "device_id: [\n",
		"no session key": "console:\n  password_hash: $2a$10$abc\nfeatures:\n  upload: false\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Error(name, "should fail")
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestDevModeConfig(t *testing.T) {
	c, err := Load(writeConfig(t, "dev_mode: true\nstore:\n  backend: local\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Sensor.Source != "simulated" {
		t.Error("dev mode should simulate the sensor, got", c.Sensor.Source)
	}
}

func TestDefaultSensorRange(t *testing.T) {
	c := DefaultConfig()
	if c.Sensor.Source != "ads1115" || c.Sensor.Curve.Params["adc_max"] != gassensor.ADS1115FullScale {
		t.Fatal("default curve should cover the ads1115 range, adc_max:", c.Sensor.Curve.Params["adc_max"])
	}
	curve, err := gassensor.NewCurve(c.Sensor.Curve)
	if err != nil {
		t.Fatal(err)
	}
	for _, raw := range []int{0, 8000, gassensor.ADS1115FullScale} {
		if _, err := curve.PPM(raw, c.Sensor.DefaultR0); err != nil {
			t.Errorf("raw %d: %v", raw, err)
		}
	}
}
