package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/reef-pi/aqnode/controller/modules/gassensor"
	"github.com/reef-pi/aqnode/controller/observability"
)

// Outcome of one upload. Failed deliveries are dropped; the next cycle is the retry.
type Outcome struct {
	Delivered bool
	Path      string
	Reason    error
	At        time.Time
}

func (o Outcome) String() string {
	if o.Delivered {
		return "delivered to " + o.Path
	}
	if o.Reason == nil {
		return "none"
	}
	return o.Reason.Error()
}

type AuthResult struct {
	Attempted bool
	OK        bool
	Err       error
}

func (a AuthResult) String() string {
	switch {
	case !a.Attempted:
		return "not attempted"
	case a.OK:
		return "ok"
	case a.Err != nil:
		return "failed: " + a.Err.Error()
	}
	return "failed"
}

type Status struct {
	Backend string
	Ready   bool
	Auth    AuthResult
	Breaker string
	Last    Outcome
}

type Config struct {
	AuthRetries     int           `yaml:"auth_retries"`
	AuthBackoff     time.Duration `yaml:"auth_backoff"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

// Aggregator summarizes batches and appends them to the store. With a nil
// store it only summarizes.
type Aggregator struct {
	store   Store
	path    string
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	metrics *observability.Metrics

	mu        sync.Mutex
	lastKnown time.Time
	auth      AuthResult
	last      Outcome
}

func NewAggregator(store Store, path string, cfg Config, m *observability.Metrics) *Aggregator {
	settings := gobreaker.Settings{
		Name:        "store",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return cfg.BreakerFailures > 0 && c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithField("module", "telemetry").Infoln("store breaker", name, "changed from", from, "to", to)
		},
	}
	return &Aggregator{
		store:   store,
		path:    path,
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
		metrics: m,
	}
}

// Authenticate runs the store handshake with bounded retries. Rejected
// credentials are not retried. The result holds until the process restarts.
func (a *Aggregator) Authenticate(ctx context.Context, creds Credentials) AuthResult {
	if a.store == nil {
		return AuthResult{}
	}
	b := backoff.NewExponentialBackOff()
	if a.cfg.AuthBackoff > 0 {
		b.InitialInterval = a.cfg.AuthBackoff
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.cfg.AuthRetries)), ctx)
	err := backoff.RetryNotify(func() error {
		ok, err := a.store.Authenticate(ctx, creds)
		if err != nil {
			return err
		}
		if !ok {
			return backoff.Permanent(ErrAuthFailed)
		}
		return nil
	}, policy, func(err error, d time.Duration) {
		log.WithField("module", "telemetry").WithError(err).Infoln("store handshake failed, retrying in", d)
	})

	res := AuthResult{Attempted: true, OK: err == nil}
	if err != nil {
		res.Err = errors.Wrapf(ErrAuthFailed, "%s: %v", a.store.Name(), err)
		log.WithField("module", "telemetry").WithError(res.Err).Errorln("uploads disabled until restart")
	}
	a.mu.Lock()
	a.auth = res
	a.mu.Unlock()
	return res
}

// Summarize wraps the package level Summarize, carrying the last known
// batch timestamp across cycles.
func (a *Aggregator) Summarize(batch gassensor.Batch) (Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := Summarize(batch, a.lastKnown)
	if err != nil {
		return s, err
	}
	if !s.BatchTimestamp.IsZero() {
		a.lastKnown = s.BatchTimestamp
	}
	a.metrics.Set(observability.LastPPM, s.MeanPPM)
	a.metrics.Set(observability.LastRaw, float64(s.MeanRaw))
	return s, nil
}

// Upload makes exactly one delivery attempt for the summary.
func (a *Aggregator) Upload(ctx context.Context, s Summary) Outcome {
	o := a.upload(ctx, s)
	o.At = time.Now()
	a.mu.Lock()
	a.last = o
	a.mu.Unlock()
	if o.Delivered {
		a.metrics.IncLabel(observability.UploadsTotal, "delivered")
		log.WithField("module", "telemetry").Debugln("reading delivered to", o.Path)
	} else {
		a.metrics.IncLabel(observability.UploadsTotal, "failed")
		log.WithField("module", "telemetry").WithError(o.Reason).Warnln("upload failed")
	}
	return o
}

func (a *Aggregator) upload(ctx context.Context, s Summary) Outcome {
	if a.store == nil {
		return Outcome{Reason: fmt.Errorf("%w: uploads disabled", ErrDeliveryFailed)}
	}
	a.mu.Lock()
	auth := a.auth
	a.mu.Unlock()
	if !auth.OK {
		return Outcome{Reason: fmt.Errorf("%w: %w", ErrDeliveryFailed, ErrAuthFailed)}
	}
	if !a.store.Ready() {
		return Outcome{Reason: fmt.Errorf("%w: %w", ErrDeliveryFailed, ErrStoreNotReady)}
	}
	rec := s.Record()
	v, err := a.breaker.Execute(func() (interface{}, error) {
		return a.store.Push(ctx, a.path, rec)
	})
	if err != nil {
		return Outcome{Reason: fmt.Errorf("%w: %s: %w", ErrDeliveryFailed, a.store.Name(), err)}
	}
	return Outcome{Delivered: true, Path: v.(string)}
}

// Ready reports whether the store is authenticated and connected.
func (a *Aggregator) Ready() bool {
	if a.store == nil {
		return false
	}
	a.mu.Lock()
	ok := a.auth.OK
	a.mu.Unlock()
	return ok && a.store.Ready()
}

func (a *Aggregator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store == nil {
		return Status{Backend: "disabled", Auth: a.auth, Last: a.last}
	}
	return Status{
		Backend: a.store.Name(),
		Ready:   a.auth.OK && a.store.Ready(),
		Auth:    a.auth,
		Breaker: a.breaker.State().String(),
		Last:    a.last,
	}
}
