package controller

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/reef-pi/aqnode/controller/arbiter"
	"github.com/reef-pi/aqnode/controller/console"
	"github.com/reef-pi/aqnode/controller/modules/gassensor"
	"github.com/reef-pi/aqnode/controller/pins"
	"github.com/reef-pi/aqnode/controller/system"
	"github.com/reef-pi/aqnode/controller/telemetry"
)

type Features struct {
	Calibration bool `yaml:"calibration"`
	Upload      bool `yaml:"upload"`
	Heartbeat   bool `yaml:"heartbeat"`
}

type RadioConfig struct {
	Interface   string              `yaml:"interface"`
	Credentials arbiter.Credentials `yaml:"credentials"`
	Timeouts    arbiter.Config      `yaml:"timeouts"`
}

type SensorConfig struct {
	// Source is one of ads1115 or simulated.
	Source      string                      `yaml:"source"`
	ADS1115     gassensor.ADS1115Config     `yaml:"ads1115"`
	Settle      time.Duration               `yaml:"settle"`
	DefaultR0   float64                     `yaml:"default_r0"`
	Curve       gassensor.CurveConfig       `yaml:"curve"`
	Calibration gassensor.CalibrationConfig `yaml:"calibration"`
}

type StoreConfig struct {
	// Backend is one of mqtt, influxdb, adafruitio or local.
	Backend     string                   `yaml:"backend"`
	Credentials telemetry.Credentials    `yaml:"credentials"`
	Upload      telemetry.Config         `yaml:"upload"`
	MQTT        telemetry.MQTTConfig     `yaml:"mqtt"`
	Influx      telemetry.InfluxConfig   `yaml:"influxdb"`
	Adafruit    telemetry.AdafruitConfig `yaml:"adafruitio"`
	Local       telemetry.LocalConfig    `yaml:"local"`
}

type PinsConfig struct {
	Mode      pins.Config `yaml:"mode"`
	Indicator pins.Config `yaml:"indicator"`
}

type Config struct {
	DeviceID          string              `yaml:"device_id"`
	DevMode           bool                `yaml:"dev_mode"`
	LogLevel          string              `yaml:"log_level"`
	Tick              time.Duration       `yaml:"tick"`
	SampleSchedule    string              `yaml:"sample_schedule"`
	HeartbeatSchedule string              `yaml:"heartbeat_schedule"`
	EarliestValidTime time.Time           `yaml:"earliest_valid_time"`
	RebootMode        string              `yaml:"reboot_mode"`
	Features          Features            `yaml:"features"`
	Pins              PinsConfig          `yaml:"pins"`
	Radio             RadioConfig         `yaml:"radio"`
	Sensor            SensorConfig        `yaml:"sensor"`
	Store             StoreConfig         `yaml:"store"`
	Console           console.WebConfig   `yaml:"console"`
	Update            system.UpdateConfig `yaml:"update"`
}

// DefaultConfig matches the reference board: 15s sampling and heartbeat,
// mode pin 13, indicator on 33 with reverse logic.
func DefaultConfig() Config {
	curve := gassensor.DefaultCurve
	curve.Params = make(map[string]float64, len(gassensor.DefaultCurve.Params))
	for k, v := range gassensor.DefaultCurve.Params {
		curve.Params[k] = v
	}
	return Config{
		DeviceID:          "aqnode",
		LogLevel:          "info",
		Tick:              250 * time.Millisecond,
		SampleSchedule:    "15s",
		HeartbeatSchedule: "15s",
		EarliestValidTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		RebootMode:        "process",
		Features:          Features{Calibration: true, Upload: true, Heartbeat: true},
		Pins: PinsConfig{
			Mode:      pins.Config{Chip: "gpiochip0", Line: 13},
			Indicator: pins.Config{Chip: "gpiochip0", Line: 33, ActiveLow: true},
		},
		Radio: RadioConfig{
			Interface: "wlan0",
			Timeouts:  arbiter.DefaultConfig,
		},
		Sensor: SensorConfig{
			Source:      "ads1115",
			ADS1115:     gassensor.ADS1115Config{Address: 0x48},
			Settle:      time.Second,
			DefaultR0:   76.63,
			Curve:       curve,
			Calibration: gassensor.CalibrationConfig{Samples: gassensor.BatchSize, Retries: 3, Backoff: time.Second},
		},
		Store: StoreConfig{
			Backend: "mqtt",
			Upload: telemetry.Config{
				AuthRetries:     5,
				AuthBackoff:     2 * time.Second,
				BreakerFailures: 5,
				BreakerCooldown: time.Minute,
			},
			MQTT:  telemetry.MQTTConfig{QoS: 1, Timeout: 10 * time.Second},
			Local: telemetry.LocalConfig{Path: "/var/lib/aqnode/readings.db"},
		},
		Console: console.WebConfig{Address: ":80", Backlog: 100},
		Update:  system.UpdateConfig{Path: "/usr/local/bin/aqnode", MaxBytes: 64 << 20},
	}
}

// Load reads a YAML file on top of the defaults, then applies environment overrides.
func Load(path string) (Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, errors.Wrapf(err, "failed to parse config %s", path)
	}
	c.applyEnv()
	c.applyDefaults()
	return c, c.validate()
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AQNODE_WIFI_PASSWORD"); v != "" {
		c.Radio.Credentials.Password = v
	}
	if v := os.Getenv("AQNODE_STORE_PASSWORD"); v != "" {
		c.Store.Credentials.Password = v
	}
	if v := os.Getenv("AQNODE_STORE_TOKEN"); v != "" {
		c.Store.Credentials.Token = v
	}
}

func (c *Config) applyDefaults() {
	if c.Store.MQTT.ClientID == "" {
		c.Store.MQTT.ClientID = c.DeviceID
	}
	if c.Sensor.Curve.Params == nil {
		c.Sensor.Curve.Params = DefaultConfig().Sensor.Curve.Params
	}
	if c.DevMode && c.Sensor.Source == "ads1115" {
		c.Sensor.Source = "simulated"
	}
}

func (c *Config) validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive")
	}
	if c.Sensor.Settle < 0 {
		return fmt.Errorf("sensor settle must not be negative")
	}
	if c.Sensor.DefaultR0 <= 0 {
		return fmt.Errorf("sensor default_r0 must be positive")
	}
	switch c.Sensor.Source {
	case "ads1115", "simulated":
	default:
		return fmt.Errorf("unknown sensor source %q", c.Sensor.Source)
	}
	if c.Features.Upload {
		switch c.Store.Backend {
		case "mqtt":
			if c.Store.MQTT.Broker == "" {
				return fmt.Errorf("store mqtt broker is required")
			}
		case "influxdb":
			if c.Store.Influx.URL == "" || c.Store.Influx.Bucket == "" {
				return fmt.Errorf("store influxdb url and bucket are required")
			}
		case "adafruitio", "local":
		default:
			return fmt.Errorf("unknown store backend %q", c.Store.Backend)
		}
	}
	if c.Console.PasswordHash != "" && c.Console.SessionKey == "" {
		return fmt.Errorf("console session_key is required with password_hash")
	}
	switch c.RebootMode {
	case "process", "system":
	default:
		return fmt.Errorf("unknown reboot_mode %q", c.RebootMode)
	}
	return nil
}
