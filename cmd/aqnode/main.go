package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/reef-pi/rpi/i2c"
	log "github.com/sirupsen/logrus"

	"github.com/reef-pi/aqnode/controller"
	"github.com/reef-pi/aqnode/controller/arbiter"
	"github.com/reef-pi/aqnode/controller/connectivity"
	"github.com/reef-pi/aqnode/controller/console"
	"github.com/reef-pi/aqnode/controller/mode"
	"github.com/reef-pi/aqnode/controller/modules/gassensor"
	"github.com/reef-pi/aqnode/controller/observability"
	"github.com/reef-pi/aqnode/controller/pins"
	"github.com/reef-pi/aqnode/controller/scheduler"
	"github.com/reef-pi/aqnode/controller/storage"
	"github.com/reef-pi/aqnode/controller/system"
	"github.com/reef-pi/aqnode/controller/telemetry"
)

var Version = "dev"

func main() {
	configPath := flag.String("config", "/etc/aqnode/aqnode.yml", "Configuration file path")
	version := flag.Bool("version", false, "Print version information")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if *version {
		fmt.Println(Version)
		return
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	cfg, err := controller.Load(*configPath)
	if err != nil {
		log.Fatalln(err)
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := 0
	if err := run(ctx, cfg, func(c int) {
		code = c
		stop()
	}); err != nil {
		log.Errorln(err)
		code = 1
	}
	os.Exit(code)
}

func run(ctx context.Context, cfg controller.Config, exit func(int)) error {
	metrics := observability.New()
	web := console.NewWebTransport(cfg.Console)
	web.Handle("/metrics", metrics.Handler())
	log.AddHook(console.NewHook(web))

	rebooter, err := system.NewRebooter(cfg.RebootMode, exit)
	if err != nil {
		return err
	}
	clock := scheduler.SystemClock()
	hw := controller.Hardware{
		Console:  web,
		Updater:  system.NewUpdater(cfg.Update, web),
		Rebooter: rebooter,
		Notifier: system.NewNotifier(),
		Clock:    clock,
		Wall:     gassensor.SystemWallClock{Earliest: cfg.EarliestValidTime},
	}
	closers, err := buildHardware(cfg, clock, &hw)
	for _, c := range closers {
		defer c.Close()
	}
	if err != nil {
		return err
	}
	if cfg.Features.Upload {
		store, closer, err := buildStore(cfg.Store)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}
		hw.Store = store
	}

	node, err := controller.New(cfg, hw, metrics)
	if err != nil {
		return err
	}
	web.LoadAPI(node.Queue())
	if err := node.Boot(ctx); err != nil {
		return err
	}
	return node.Run(ctx)
}

func buildHardware(cfg controller.Config, clock scheduler.Clock, hw *controller.Hardware) ([]io.Closer, error) {
	var closers []io.Closer
	if cfg.DevMode {
		log.Warnln("dev mode: using simulated radio, sensor and mode pin")
		hw.ModePin = mode.Level(true)
		hw.Radio = connectivity.NewSimulated(clock, 2*time.Second)
		hw.Indicator = arbiter.IndicatorFunc(func(on bool) error {
			log.WithField("module", "indicator").Debugln("indicator:", on)
			return nil
		})
	} else {
		in, err := pins.OpenInput(cfg.Pins.Mode)
		if err != nil {
			return closers, err
		}
		closers = append(closers, in)
		hw.ModePin = in
		out, err := pins.OpenOutput(cfg.Pins.Indicator)
		if err != nil {
			return closers, err
		}
		closers = append(closers, out)
		hw.Indicator = out
		nm, err := connectivity.NewNetworkManager(cfg.Radio.Interface)
		if err != nil {
			return closers, err
		}
		hw.Radio = nm
	}

	switch cfg.Sensor.Source {
	case "simulated":
		hw.Source = gassensor.NewSimulated(2000, 25, time.Now().UnixNano())
	case "ads1115":
		bus, err := i2c.New()
		if err != nil {
			return closers, errors.Wrap(err, "failed to open i2c bus")
		}
		closers = append(closers, bus)
		src, drv, err := gassensor.NewADS1115(bus, cfg.Sensor.ADS1115)
		if err != nil {
			return closers, err
		}
		closers = append(closers, drv)
		hw.Source = src
	}
	return closers, nil
}

func buildStore(cfg controller.StoreConfig) (telemetry.Store, io.Closer, error) {
	switch cfg.Backend {
	case "mqtt":
		s := telemetry.NewMQTTStore(cfg.MQTT)
		return s, s, nil
	case "influxdb":
		s := telemetry.NewInfluxStore(cfg.Influx)
		return s, s, nil
	case "adafruitio":
		return telemetry.NewAdafruitStore(cfg.Adafruit), nil, nil
	case "local":
		db, err := storage.New(cfg.Local.Path)
		if err != nil {
			return nil, nil, err
		}
		return telemetry.NewLocalStore(db), db, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}
