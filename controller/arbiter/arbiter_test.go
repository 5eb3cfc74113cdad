package arbiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reef-pi/aqnode/controller/scheduler"
)

type fakeRadio struct {
	mu          sync.Mutex
	status      Status
	connects    int
	disconnects int
	// stuck keeps the radio connecting forever
	stuck bool
	// sticky keeps the radio connected after a disconnect request
	sticky bool
	// unreadable radios always report Unknown
	unreadable bool
}

func (r *fakeRadio) Connect(_ context.Context, _ Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	if r.stuck {
		r.status = Connecting
		return nil
	}
	r.status = Connected
	return nil
}

func (r *fakeRadio) Disconnect(bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnects++
	if !r.sticky {
		r.status = Disconnected
	}
	return nil
}

func (r *fakeRadio) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unreadable {
		return Unknown
	}
	return r.status
}

func (r *fakeRadio) LocalAddress() string { return "192.0.2.10" }

type fakeLED struct {
	mu     sync.Mutex
	states []bool
}

func (l *fakeLED) Write(on bool) error {
	l.mu.Lock()
	l.states = append(l.states, on)
	l.mu.Unlock()
	return nil
}

func newArbiter(r *fakeRadio, led *fakeLED) *Arbiter {
	clock := scheduler.NewManualClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return New(r, Credentials{SSID: "lab"}, led, clock, Config{
		ConnectTimeout:    10 * time.Second,
		DisconnectTimeout: 2 * time.Second,
		PollInterval:      100 * time.Millisecond,
	}, nil)
}

func TestAcquireRelease(t *testing.T) {
	r := &fakeRadio{status: Connected}
	led := &fakeLED{}
	a := newArbiter(r, led)
	ctx := context.Background()

	if err := a.AcquireForSampling(ctx, "schedule"); err != nil {
		t.Fatal(err)
	}
	if a.Status() != Disconnected {
		t.Fatal("radio must be disconnected while the adc is held")
	}
	if h, _ := a.Holder(); h != "schedule" {
		t.Error("unexpected holder:", h)
	}
	if err := a.ReleaseFromSampling(ctx); err != nil {
		t.Fatal(err)
	}
	if a.Status() != Connected {
		t.Error("radio should be connected after release")
	}
	if h, _ := a.Holder(); h != "" {
		t.Error("adc should be free after release, held by", h)
	}
	if len(led.states) != 2 || !led.states[0] || led.states[1] {
		t.Error("indicator should go on then off, got", led.states)
	}
	if err := a.ReleaseFromSampling(ctx); !errors.Is(err, ErrNotHeld) {
		t.Error("release without acquire should fail with ErrNotHeld, got", err)
	}
}

func TestReleaseTimeout(t *testing.T) {
	r := &fakeRadio{status: Connected, stuck: true}
	a := newArbiter(r, &fakeLED{})
	ctx := context.Background()
	if err := a.AcquireForSampling(ctx, "schedule"); err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- a.ReleaseFromSampling(ctx) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrConnectivityTimeout) {
			t.Fatal("expected connectivity timeout, got", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("release did not return")
	}
	// The lock must be free again
	r.stuck = false
	if err := a.AcquireForSampling(ctx, "console"); err != nil {
		t.Fatal(err)
	}
	if err := a.ReleaseFromSampling(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestAcquireDisconnectTimeout(t *testing.T) {
	r := &fakeRadio{status: Connected, sticky: true}
	a := newArbiter(r, &fakeLED{})
	err := a.AcquireForSampling(context.Background(), "schedule")
	if !errors.Is(err, ErrConnectivityTimeout) {
		t.Fatal("expected connectivity timeout, got", err)
	}
	if h, _ := a.Holder(); h != "" {
		t.Error("failed acquire must not leave a holder")
	}
	if r.connects != 1 {
		t.Error("radio should be restored after a failed acquire")
	}
}

func TestUnknownStatusTimesOut(t *testing.T) {
	r := &fakeRadio{status: Connected, unreadable: true}
	a := newArbiter(r, &fakeLED{})
	ctx := context.Background()
	if err := a.AcquireForSampling(ctx, "schedule"); !errors.Is(err, ErrConnectivityTimeout) {
		t.Fatal("an unreadable radio must not count as disconnected, got", err)
	}
	if h, _ := a.Holder(); h != "" {
		t.Error("failed acquire must not leave a holder")
	}
	if err := a.Connect(ctx); !errors.Is(err, ErrConnectivityTimeout) {
		t.Error("an unreadable radio must not count as connected, got", err)
	}
	if Unknown.String() != "unknown" {
		t.Error("unexpected name", Unknown)
	}
}

func TestAcquireSerializes(t *testing.T) {
	r := &fakeRadio{status: Connected}
	a := newArbiter(r, &fakeLED{})
	ctx := context.Background()

	if err := a.AcquireForSampling(ctx, "schedule"); err != nil {
		t.Fatal(err)
	}
	var acquired int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := a.AcquireForSampling(ctx, "console"); err != nil {
			t.Error(err)
			return
		}
		atomic.StoreInt32(&acquired, 1)
		if err := a.ReleaseFromSampling(ctx); err != nil {
			t.Error(err)
		}
	}()

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&acquired) != 0 {
		t.Fatal("second caller acquired the adc while it was held")
	}
	if err := a.ReleaseFromSampling(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never acquired the adc")
	}
	if atomic.LoadInt32(&acquired) != 1 {
		t.Error("second caller did not run")
	}
}
