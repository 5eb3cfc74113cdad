package console

import (
	"context"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reef-pi/aqnode/controller/mode"
	"github.com/reef-pi/aqnode/controller/modules/gassensor"
	"github.com/reef-pi/aqnode/controller/observability"
	"github.com/reef-pi/aqnode/controller/telemetry"
)

// Output is where console responses go.
type Output interface {
	SendLine(text string)
	Flush(ctx context.Context) error
}

type Sampler interface {
	TakeBatch(ctx context.Context, holder string) (gassensor.Batch, error)
	Last() gassensor.Batch
	Baseline() float64
}

type StoreReporter interface {
	Status() telemetry.Status
}

type Rebooter interface {
	Reboot(reason string) error
}

// Deps are the collaborators the interpreter reports on or acts through.
type Deps struct {
	Mode         mode.OperatingMode
	Sampler      Sampler
	Store        StoreReporter
	Wall         gassensor.WallClock
	Rebooter     Rebooter
	Status       func() []string
	FlushTimeout time.Duration
	Metrics      *observability.Metrics
}

// Interpreter executes console commands. It never panics on input and every
// command produces at least one line.
type Interpreter struct {
	out  Output
	deps Deps
}

func NewInterpreter(out Output, deps Deps) *Interpreter {
	if deps.FlushTimeout <= 0 {
		deps.FlushTimeout = 2 * time.Second
	}
	return &Interpreter{out: out, deps: deps}
}

func (i *Interpreter) Handle(ctx context.Context, text string) {
	cmd := Parse(text)
	i.deps.Metrics.IncLabel(observability.CommandsTotal, cmd.Name())

	switch c := cmd.(type) {
	case ModeCommand:
		i.out.SendLine("MODE: " + i.deps.Mode.Describe())
	case RebootCommand:
		i.reboot(ctx)
	case SensorReadCommand:
		i.sensorRead(ctx)
	case SensorShowCommand:
		i.showBatch(i.deps.Sampler.Last())
	case SensorR0Command:
		i.out.SendLine("R0: " + strconv.FormatFloat(i.deps.Sampler.Baseline(), 'g', -1, 64))
	case TimeCommand:
		i.showTime()
	case StoreStatusCommand:
		i.storeStatus()
	case StatusCommand:
		i.status()
	case HelpCommand:
		for _, l := range usage {
			i.out.SendLine(l)
		}
	case UnknownCommand:
		i.out.SendLine(c.Text)
	}
}

func (i *Interpreter) reboot(ctx context.Context) {
	i.out.SendLine("Rebooting...")
	fctx, cancel := context.WithTimeout(ctx, i.deps.FlushTimeout)
	defer cancel()
	if err := i.out.Flush(fctx); err != nil {
		log.WithField("module", "console").WithError(err).Infoln("console flush before reboot incomplete")
	}
	if err := i.deps.Rebooter.Reboot("console command"); err != nil {
		i.out.SendLine("reboot failed: " + err.Error())
	}
}

func (i *Interpreter) sensorRead(ctx context.Context) {
	if !i.deps.Mode.SamplingEnabled() {
		i.out.SendLine("sensor disabled in " + i.deps.Mode.Describe())
		return
	}
	i.out.SendLine("Reading sensor, console will pause while the radio is off")
	b, err := i.deps.Sampler.TakeBatch(ctx, "console")
	if err != nil && b == nil {
		i.out.SendLine("sensor read failed: " + err.Error())
		return
	}
	if err != nil {
		i.out.SendLine("warning: " + err.Error())
	}
	i.showBatch(b)
}

func (i *Interpreter) showBatch(b gassensor.Batch) {
	if len(b) == 0 {
		i.out.SendLine("GAS: no readings yet")
		return
	}
	for n, r := range b {
		i.out.SendLine(fmt.Sprintf("GAS[%d]: %s", n, r))
	}
}

func (i *Interpreter) showTime() {
	now, err := i.deps.Wall.Now()
	if err != nil {
		i.out.SendLine("TIME: unset (" + err.Error() + ")")
		return
	}
	i.out.SendLine("TIME: " + now.Format(time.RFC3339))
}

func (i *Interpreter) storeStatus() {
	if i.deps.Store == nil {
		i.out.SendLine("STORE: disabled")
		return
	}
	s := i.deps.Store.Status()
	i.out.SendLine(fmt.Sprintf("STORE: %s ready=%t auth=%s breaker=%s", s.Backend, s.Ready, s.Auth, s.Breaker))
	i.out.SendLine("STORE: last upload " + s.Last.String())
}

func (i *Interpreter) status() {
	i.out.SendLine("MODE: " + i.deps.Mode.Describe())
	if i.deps.Status == nil {
		return
	}
	for _, l := range i.deps.Status() {
		i.out.SendLine(l)
	}
}
