package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reef-pi/aqnode/controller/observability"
	"github.com/reef-pi/aqnode/controller/scheduler"
)

var (
	ErrConnectivityTimeout = errors.New("connectivity timeout")
	ErrNotHeld             = errors.New("adc is not held")
)

type Config struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
}

var DefaultConfig = Config{
	ConnectTimeout:    20 * time.Second,
	DisconnectTimeout: 5 * time.Second,
	PollInterval:      250 * time.Millisecond,
}

// Arbiter serializes use of the ADC, which shares its channel with the radio.
// While held the radio is off and the indicator is lit; on release the radio is
// brought back and the indicator turned off.
type Arbiter struct {
	conn      Connectivity
	creds     Credentials
	indicator Indicator
	clock     scheduler.Clock
	cfg       Config
	metrics   *observability.Metrics

	lock   sync.Mutex
	mu     sync.Mutex
	holder string
	since  time.Time
}

func New(conn Connectivity, creds Credentials, indicator Indicator, clock scheduler.Clock, cfg Config, m *observability.Metrics) *Arbiter {
	if clock == nil {
		clock = scheduler.SystemClock()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig.ConnectTimeout
	}
	if cfg.DisconnectTimeout <= 0 {
		cfg.DisconnectTimeout = DefaultConfig.DisconnectTimeout
	}
	return &Arbiter{
		conn:      conn,
		creds:     creds,
		indicator: indicator,
		clock:     clock,
		cfg:       cfg,
		metrics:   m,
	}
}

// Connect performs the boot-time connection, waiting for the radio under the same lock.
func (a *Arbiter) Connect(ctx context.Context) error {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.connect(ctx)
}

// AcquireForSampling blocks until the ADC is free, then turns the radio off
// and waits, bounded, for it to report Disconnected.
func (a *Arbiter) AcquireForSampling(ctx context.Context, holder string) error {
	start := a.clock.Now()
	a.lock.Lock()
	a.metrics.Observe(observability.ArbiterWaitSeconds, a.clock.Now().Sub(start).Seconds())

	if err := a.conn.Disconnect(false); err != nil {
		a.lock.Unlock()
		return errors.Wrap(err, "failed to disconnect radio")
	}
	if err := a.waitFor(ctx, Disconnected, a.cfg.DisconnectTimeout); err != nil {
		// The radio may still be up, so the ADC is unusable. Try to leave the
		// radio in a connected state for the next cycle.
		if cerr := a.conn.Connect(ctx, a.creds); cerr != nil {
			log.WithField("module", "arbiter").WithError(cerr).Warnln("failed to restore radio")
		}
		a.lock.Unlock()
		return err
	}

	a.mu.Lock()
	a.holder = holder
	a.since = a.clock.Now()
	a.mu.Unlock()
	if err := a.indicator.Write(true); err != nil {
		log.WithField("module", "arbiter").WithError(err).Warnln("failed to turn indicator on")
	}
	return nil
}

// ReleaseFromSampling turns the indicator off and reconnects the radio. The
// lock is released whether or not the radio comes back in time.
func (a *Arbiter) ReleaseFromSampling(ctx context.Context) error {
	a.mu.Lock()
	if a.holder == "" {
		a.mu.Unlock()
		return ErrNotHeld
	}
	a.holder = ""
	a.since = time.Time{}
	a.mu.Unlock()
	defer a.lock.Unlock()

	if err := a.indicator.Write(false); err != nil {
		log.WithField("module", "arbiter").WithError(err).Warnln("failed to turn indicator off")
	}
	return a.connect(ctx)
}

func (a *Arbiter) connect(ctx context.Context) error {
	if err := a.conn.Connect(ctx, a.creds); err != nil {
		return errors.Wrap(err, "failed to connect radio")
	}
	return a.waitFor(ctx, Connected, a.cfg.ConnectTimeout)
}

func (a *Arbiter) waitFor(ctx context.Context, want Status, timeout time.Duration) error {
	deadline := a.clock.Now().Add(timeout)
	for {
		if a.conn.Status() == want {
			return nil
		}
		if !a.clock.Now().Before(deadline) {
			a.metrics.Inc(observability.ConnectivityTimeouts)
			return errors.Wrapf(ErrConnectivityTimeout, "radio not %s after %s", want, timeout)
		}
		if err := scheduler.Wait(ctx, a.clock, a.cfg.PollInterval); err != nil {
			return errors.Wrapf(err, "waiting for radio to become %s", want)
		}
	}
}

// Holder returns who holds the ADC and since when. An empty name means it is free.
func (a *Arbiter) Holder() (string, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder, a.since
}

func (a *Arbiter) Status() Status {
	return a.conn.Status()
}

func (a *Arbiter) LocalAddress() string {
	return a.conn.LocalAddress()
}
