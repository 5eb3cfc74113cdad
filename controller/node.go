package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reef-pi/aqnode/controller/arbiter"
	"github.com/reef-pi/aqnode/controller/console"
	"github.com/reef-pi/aqnode/controller/mode"
	"github.com/reef-pi/aqnode/controller/modules/gassensor"
	"github.com/reef-pi/aqnode/controller/observability"
	"github.com/reef-pi/aqnode/controller/scheduler"
	"github.com/reef-pi/aqnode/controller/system"
	"github.com/reef-pi/aqnode/controller/telemetry"
)

// Console is the debug console transport.
type Console interface {
	SendLine(text string)
	Flush(ctx context.Context) error
	OnReceive(fn func(string))
	Start(ctx context.Context) error
}

// Service is started once at boot and runs until the context ends.
type Service interface {
	Start(ctx context.Context) error
}

type Notifier interface {
	Ready()
	Tick(now time.Time)
}

// Hardware holds the collaborators that differ between a board, dev mode and tests.
type Hardware struct {
	ModePin   mode.Input
	Indicator arbiter.Indicator
	Radio     arbiter.Connectivity
	Source    gassensor.Source
	// Store is nil when uploads are disabled.
	Store    telemetry.Store
	Console  Console
	Updater  Service
	Rebooter system.Rebooter
	Notifier Notifier
	Clock    scheduler.Clock
	Wall     gassensor.WallClock
}

// Node owns every component of the sensor node. There is no global state.
type Node struct {
	cfg     Config
	hw      Hardware
	metrics *observability.Metrics

	mode        mode.OperatingMode
	curve       *gassensor.Curve
	arbiter     *arbiter.Arbiter
	sampler     *gassensor.Sampler
	aggregator  *telemetry.Aggregator
	scheduler   *scheduler.Scheduler
	queue       *console.Queue
	interpreter *console.Interpreter
	started     time.Time
}

func New(cfg Config, hw Hardware, m *observability.Metrics) (*Node, error) {
	if hw.ModePin == nil || hw.Radio == nil || hw.Source == nil || hw.Console == nil || hw.Rebooter == nil {
		return nil, fmt.Errorf("mode pin, radio, sensor source, console and rebooter are required")
	}
	if hw.Clock == nil {
		hw.Clock = scheduler.SystemClock()
	}
	if hw.Wall == nil {
		hw.Wall = gassensor.SystemWallClock{Earliest: cfg.EarliestValidTime}
	}
	if hw.Indicator == nil {
		hw.Indicator = arbiter.IndicatorFunc(func(bool) error { return nil })
	}
	curve, err := gassensor.NewCurve(cfg.Sensor.Curve)
	if err != nil {
		return nil, err
	}
	arb := arbiter.New(hw.Radio, cfg.Radio.Credentials, hw.Indicator, hw.Clock, cfg.Radio.Timeouts, m)
	var store telemetry.Store
	if cfg.Features.Upload {
		if hw.Store == nil {
			return nil, fmt.Errorf("uploads enabled without a store")
		}
		store = hw.Store
	}
	return &Node{
		cfg:        cfg,
		hw:         hw,
		metrics:    m,
		curve:      curve,
		arbiter:    arb,
		sampler:    gassensor.NewSampler(arb, hw.Source, curve, hw.Wall, hw.Clock, cfg.Sensor.Settle, m),
		aggregator: telemetry.NewAggregator(store, telemetry.DevicePath(cfg.DeviceID), cfg.Store.Upload, m),
		scheduler:  scheduler.New(hw.Clock),
		queue:      console.NewQueue(),
	}, nil
}

// Boot decides the operating mode, calibrates, brings up the radio and the
// console, authenticates with the store and registers the periodic jobs.
// Only a console failure is fatal.
func (n *Node) Boot(ctx context.Context) error {
	n.started = n.hw.Clock.Now()
	m, err := mode.Decide(n.hw.ModePin)
	if err != nil {
		log.WithField("module", "controller").WithError(err).Warnln("mode select failed, staying in failsafe")
	}
	n.mode = m
	log.WithField("module", "controller").Infoln("operating mode:", m)
	if m == mode.Normal {
		n.metrics.Set(observability.OperatingMode, 1)
	}

	r0 := n.cfg.Sensor.DefaultR0
	if m.SamplingEnabled() && n.cfg.Features.Calibration {
		r0 = n.calibrate(ctx, r0)
	}
	if err := n.sampler.SetBaseline(r0); err != nil {
		return err
	}
	log.WithField("module", "controller").Infoln("baseline r0:", r0)

	if n.arbiter.Status() != arbiter.Connected {
		if err := n.arbiter.Connect(ctx); err != nil {
			log.WithField("module", "controller").WithError(err).Warnln("radio did not connect at boot")
		}
	}

	deps := console.Deps{
		Mode:     m,
		Sampler:  n.sampler,
		Wall:     n.hw.Wall,
		Rebooter: n.hw.Rebooter,
		Status:   n.statusLines,
		Metrics:  n.metrics,
	}
	if n.cfg.Features.Upload {
		deps.Store = n.aggregator
	}
	n.interpreter = console.NewInterpreter(n.hw.Console, deps)
	if n.hw.Updater != nil {
		if err := n.hw.Updater.Start(ctx); err != nil {
			log.WithField("module", "controller").WithError(err).Errorln("remote update unavailable")
		}
	}
	n.hw.Console.OnReceive(n.receive)
	if err := n.hw.Console.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start console")
	}

	if m.SamplingEnabled() {
		if n.cfg.Features.Upload {
			n.aggregator.Authenticate(ctx, n.cfg.Store.Credentials)
		}
		if err := n.registerJobs(); err != nil {
			return err
		}
	}
	if n.hw.Notifier != nil {
		n.hw.Notifier.Ready()
	}
	log.WithField("module", "controller").Infoln("boot complete, jobs:", n.scheduler.Len())
	return nil
}

// calibrate holds the ADC like a sampling cycle does, so a radio that came up
// on its own is turned off first. Any failure returns fallback.
func (n *Node) calibrate(ctx context.Context, fallback float64) float64 {
	if err := n.arbiter.AcquireForSampling(ctx, "calibration"); err != nil {
		log.WithField("module", "controller").WithError(err).Warnln("radio still up, using default baseline", fallback)
		return fallback
	}
	cal := gassensor.NewCalibrator(n.hw.Source, n.curve, n.arbiter, n.hw.Clock, n.cfg.Sensor.Settle, n.cfg.Sensor.Calibration)
	r0, err := cal.Calibrate(ctx)
	if rerr := n.arbiter.ReleaseFromSampling(ctx); rerr != nil {
		log.WithField("module", "controller").WithError(rerr).Warnln("radio did not reconnect after calibration")
	}
	if err != nil {
		log.WithField("module", "controller").WithError(err).Warnln("using default baseline", fallback)
		return fallback
	}
	return r0
}

func (n *Node) registerJobs() error {
	trigger, err := scheduler.ParseTrigger(n.cfg.SampleSchedule)
	if err != nil {
		return errors.Wrap(err, "sample_schedule")
	}
	if err := n.scheduler.Add(scheduler.Job{Name: "sample", Trigger: trigger, Run: n.sample}); err != nil {
		return err
	}
	if !n.cfg.Features.Heartbeat || !n.cfg.Features.Upload {
		return nil
	}
	trigger, err = scheduler.ParseTrigger(n.cfg.HeartbeatSchedule)
	if err != nil {
		return errors.Wrap(err, "heartbeat_schedule")
	}
	return n.scheduler.Add(scheduler.Job{Name: "heartbeat", Trigger: trigger, Run: n.heartbeat})
}

// Run processes console commands and ticks the scheduler until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	go n.queue.ProcessTasks(ctx, func(t console.Task) {
		n.interpreter.Handle(ctx, t.Text)
	})
	err := n.scheduler.Run(ctx, n.cfg.Tick, n.onTick)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (n *Node) onTick(now time.Time) {
	if n.hw.Notifier != nil {
		n.hw.Notifier.Tick(now)
	}
}

func (n *Node) receive(text string) {
	if err := n.queue.AddTask(text); err != nil {
		n.hw.Console.SendLine(err.Error())
	}
}

// sample always samples and uploads only when enabled. A radio that fails to
// come back is reported but the batch is still summarized.
func (n *Node) sample(ctx context.Context) error {
	batch, err := n.sampler.TakeBatch(ctx, "schedule")
	if batch == nil {
		return err
	}
	summary, serr := n.aggregator.Summarize(batch)
	if serr != nil {
		return serr
	}
	if n.cfg.Features.Upload {
		n.aggregator.Upload(ctx, summary)
	}
	return err
}

func (n *Node) heartbeat(_ context.Context) error {
	if !n.aggregator.Ready() {
		return scheduler.ErrNotReady
	}
	n.hw.Console.SendLine("Hey")
	return nil
}

func (n *Node) statusLines() []string {
	lines := []string{
		"DEVICE: " + n.cfg.DeviceID,
		fmt.Sprintf("RADIO: %s %s", n.arbiter.Status(), n.arbiter.LocalAddress()),
	}
	if holder, since := n.arbiter.Holder(); holder != "" {
		lines = append(lines, fmt.Sprintf("ADC: held by %s since %s", holder, since.Format(time.TimeOnly)))
	} else {
		lines = append(lines, "ADC: free")
	}
	for _, j := range n.scheduler.State() {
		last := "never"
		if !j.LastFiredAt.IsZero() {
			last = j.LastFiredAt.Format(time.TimeOnly)
		}
		lines = append(lines, fmt.Sprintf("JOB: %s %s last=%s runs=%d", j.Name, j.Trigger, last, j.Runs))
	}
	lines = append(lines, "UPTIME: "+n.hw.Clock.Now().Sub(n.started).Truncate(time.Second).String())
	if info, err := system.Collect(); err == nil {
		lines = append(lines, info.Lines()...)
	}
	return lines
}

func (n *Node) Mode() mode.OperatingMode { return n.mode }

// Queue is the console command queue, exposed for the HTTP API.
func (n *Node) Queue() *console.Queue { return n.queue }
