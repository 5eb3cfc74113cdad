package console

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reef-pi/aqnode/controller/arbiter"
	"github.com/reef-pi/aqnode/controller/mode"
	"github.com/reef-pi/aqnode/controller/modules/gassensor"
	"github.com/reef-pi/aqnode/controller/scheduler"
	"github.com/reef-pi/aqnode/controller/telemetry"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	lines   []string
	flushed bool
}

func (r *recorder) SendLine(text string) {
	r.mu.Lock()
	r.lines = append(r.lines, text)
	r.mu.Unlock()
}

func (r *recorder) Flush(context.Context) error {
	r.mu.Lock()
	r.flushed = true
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

type fakeSampler struct {
	last  gassensor.Batch
	r0    float64
	reads int
	err   error
}

func (s *fakeSampler) TakeBatch(context.Context, string) (gassensor.Batch, error) {
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	return s.last, nil
}

func (s *fakeSampler) Last() gassensor.Batch { return s.last }
func (s *fakeSampler) Baseline() float64     { return s.r0 }

type fakeRebooter struct {
	out    *recorder
	reason string
}

func (f *fakeRebooter) Reboot(reason string) error {
	if !f.out.flushed {
		return errors.New("console not flushed")
	}
	f.reason = reason
	return nil
}

type wall struct{ err error }

func (w wall) Now() (time.Time, error) { return epoch, w.err }

func newInterpreter(m mode.OperatingMode, s Sampler) (*Interpreter, *recorder, *fakeRebooter) {
	out := &recorder{}
	rb := &fakeRebooter{out: out}
	return NewInterpreter(out, Deps{
		Mode:     m,
		Sampler:  s,
		Wall:     wall{},
		Rebooter: rb,
		Status:   func() []string { return []string{"IP: 192.0.2.10"} },
	}), out, rb
}

func TestInterpreterEcho(t *testing.T) {
	i, out, _ := newInterpreter(mode.Normal, &fakeSampler{})
	for _, text := range []string{"hello world", "MODE", "sensor", "foo\r\n"} {
		i.Handle(context.Background(), text)
	}
	lines := out.all()
	if len(lines) != 4 || lines[0] != "hello world" || lines[1] != "MODE" || lines[2] != "sensor" || lines[3] != "foo" {
		t.Errorf("unknown text should be echoed without its line ending, got %q", lines)
	}
}

func TestInterpreterR0(t *testing.T) {
	r0 := 3.1415926535897931
	i, out, _ := newInterpreter(mode.Normal, &fakeSampler{r0: r0})
	i.Handle(context.Background(), "sensor r0")
	lines := out.all()
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "R0: ") {
		t.Fatal("unexpected output:", lines)
	}
	v, err := strconv.ParseFloat(strings.TrimPrefix(lines[0], "R0: "), 64)
	if err != nil {
		t.Fatal(err)
	}
	if v != r0 {
		t.Errorf("printed baseline %v does not match stored %v", v, r0)
	}
}

func TestInterpreterMode(t *testing.T) {
	i, out, _ := newInterpreter(mode.Failsafe, &fakeSampler{})
	i.Handle(context.Background(), "mode")
	if l := out.all(); l[0] != "MODE: OTA flash mode" {
		t.Error("unexpected mode line:", l)
	}
	i, out, _ = newInterpreter(mode.Normal, &fakeSampler{})
	i.Handle(context.Background(), "mode")
	if l := out.all(); l[0] != "MODE: Run mode" {
		t.Error("unexpected mode line:", l)
	}
}

func TestInterpreterFailsafeRefusesRead(t *testing.T) {
	s := &fakeSampler{}
	i, out, _ := newInterpreter(mode.Failsafe, s)
	i.Handle(context.Background(), "sensor read")
	if s.reads != 0 {
		t.Error("sensor must not be read in failsafe")
	}
	if l := out.all(); len(l) != 1 || !strings.Contains(l[0], "disabled") {
		t.Error("expected refusal, got", l)
	}
}

func TestInterpreterShow(t *testing.T) {
	s := &fakeSampler{}
	i, out, _ := newInterpreter(mode.Normal, s)
	i.Handle(context.Background(), "show sensor")
	if l := out.all(); l[0] != "GAS: no readings yet" {
		t.Error("unexpected output:", l)
	}
	s.last = gassensor.Batch{
		{Raw: 100, PPM: 1, CapturedAt: epoch},
		{Raw: 110, PPM: 1.1},
		{Raw: 105, PPM: 1.05},
	}
	out.lines = nil
	i.Handle(context.Background(), "sensor show")
	l := out.all()
	if len(l) != 3 {
		t.Fatal("expected one line per reading, got", l)
	}
	if l[0] != "GAS[0]: raw=100 ppm=1.000 at=2024-05-01T12:00:00Z" || l[1] != "GAS[1]: raw=110 ppm=1.100 at=unset" {
		t.Error("unexpected output:", l)
	}
}

func TestInterpreterTimeAndStore(t *testing.T) {
	out := &recorder{}
	i := NewInterpreter(out, Deps{Mode: mode.Normal, Sampler: &fakeSampler{}, Wall: wall{err: gassensor.ErrClockUnsynced}})
	i.Handle(context.Background(), "time")
	i.Handle(context.Background(), "firebase status")
	l := out.all()
	if !strings.HasPrefix(l[0], "TIME: unset") {
		t.Error("unexpected time line:", l[0])
	}
	if l[1] != "STORE: disabled" {
		t.Error("unexpected store line:", l[1])
	}
}

type reporter telemetry.Status

func (r reporter) Status() telemetry.Status { return telemetry.Status(r) }

func TestInterpreterStoreStatus(t *testing.T) {
	out := &recorder{}
	i := NewInterpreter(out, Deps{Mode: mode.Normal, Sampler: &fakeSampler{}, Wall: wall{},
		Store: reporter{Backend: "mqtt", Ready: true, Auth: telemetry.AuthResult{Attempted: true, OK: true}, Breaker: "closed"}})
	i.Handle(context.Background(), "store status")
	l := out.all()
	if l[0] != "STORE: mqtt ready=true auth=ok breaker=closed" {
		t.Error("unexpected store line:", l[0])
	}
}

func TestInterpreterReboot(t *testing.T) {
	i, out, rb := newInterpreter(mode.Normal, &fakeSampler{})
	i.Handle(context.Background(), "reboot")
	if rb.reason == "" {
		t.Fatal("rebooter not invoked after flush")
	}
	if l := out.all(); l[0] != "Rebooting..." {
		t.Error("unexpected output:", l)
	}
}

func TestInterpreterHelpAndStatus(t *testing.T) {
	i, out, _ := newInterpreter(mode.Normal, &fakeSampler{})
	i.Handle(context.Background(), "help")
	if len(out.all()) != len(usage) {
		t.Error("help should print every command")
	}
	out.lines = nil
	i.Handle(context.Background(), "status")
	if l := out.all(); len(l) != 2 || l[1] != "IP: 192.0.2.10" {
		t.Error("unexpected status:", l)
	}
}

type radio struct {
	mu     sync.Mutex
	status arbiter.Status
}

func (r *radio) Connect(context.Context, arbiter.Credentials) error {
	r.mu.Lock()
	r.status = arbiter.Connected
	r.mu.Unlock()
	return nil
}

func (r *radio) Disconnect(bool) error {
	r.mu.Lock()
	r.status = arbiter.Disconnected
	r.mu.Unlock()
	return nil
}

func (r *radio) Status() arbiter.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *radio) LocalAddress() string { return "" }

type constant int

func (c constant) Read() (int, error) { return int(c), nil }

type identity struct{}

func (identity) PPM(raw int, _ float64) (float64, error) { return float64(raw), nil }

func TestConsoleReadWaitsForScheduledCycle(t *testing.T) {
	clock := scheduler.NewManualClock(epoch)
	r := &radio{status: arbiter.Connected}
	arb := arbiter.New(r, arbiter.Credentials{}, arbiter.IndicatorFunc(func(bool) error { return nil }), clock, arbiter.Config{}, nil)
	sampler := gassensor.NewSampler(arb, constant(100), identity{}, wall{}, clock, time.Second, nil)
	i, out, _ := newInterpreter(mode.Normal, sampler)

	ctx := context.Background()
	if err := arb.AcquireForSampling(ctx, "schedule"); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		i.Handle(ctx, "sensor read")
	}()

	time.Sleep(50 * time.Millisecond)
	for _, l := range out.all() {
		if strings.HasPrefix(l, "GAS[") {
			t.Fatal("console read completed while the scheduled cycle held the adc")
		}
	}
	if h, _ := arb.Holder(); h != "schedule" {
		t.Fatal("adc holder changed while held:", h)
	}
	if err := arb.ReleaseFromSampling(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("console read never completed")
	}
	var gas int
	for _, l := range out.all() {
		if strings.HasPrefix(l, "GAS[") {
			gas++
		}
	}
	if gas != gassensor.BatchSize {
		t.Error("expected a full batch on the console, got", out.all())
	}
	if r.Status() != arbiter.Connected {
		t.Error("radio should be reconnected after the console read")
	}
}
