package gassensor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reef-pi/aqnode/controller/observability"
	"github.com/reef-pi/aqnode/controller/scheduler"
)

var ErrClockUnsynced = errors.New("wall clock not synced")

// WallClock reports calendar time, or ErrClockUnsynced before time sync.
type WallClock interface {
	Now() (time.Time, error)
}

// SystemWallClock treats any time before Earliest as unsynced.
type SystemWallClock struct {
	Earliest time.Time
}

func (c SystemWallClock) Now() (time.Time, error) {
	now := time.Now()
	if now.Before(c.Earliest) {
		return time.Time{}, ErrClockUnsynced
	}
	return now, nil
}

// Arbiter grants exclusive use of the ADC.
type Arbiter interface {
	AcquireForSampling(ctx context.Context, holder string) error
	ReleaseFromSampling(ctx context.Context) error
}

// Sampler takes reading batches under the arbiter and keeps the latest one.
type Sampler struct {
	arbiter Arbiter
	source  Source
	conv    Converter
	wall    WallClock
	clock   scheduler.Clock
	settle  time.Duration
	metrics *observability.Metrics

	mu      sync.RWMutex
	current [BatchSize]Reading
	filled  bool
	r0      float64
	r0Set   bool
}

func NewSampler(a Arbiter, source Source, conv Converter, wall WallClock, clock scheduler.Clock, settle time.Duration, m *observability.Metrics) *Sampler {
	if clock == nil {
		clock = scheduler.SystemClock()
	}
	return &Sampler{
		arbiter: a,
		source:  source,
		conv:    conv,
		wall:    wall,
		clock:   clock,
		settle:  settle,
		metrics: m,
	}
}

// SetBaseline fixes r0 for the life of the process. It can be called once.
func (s *Sampler) SetBaseline(r0 float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r0Set {
		return errors.New("baseline already set")
	}
	s.r0 = r0
	s.r0Set = true
	s.metrics.Set(observability.BaselineR0, r0)
	return nil
}

func (s *Sampler) Baseline() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.r0
}

// Last returns a copy of the most recent complete batch, or nil before the first one.
func (s *Sampler) Last() Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.filled {
		return nil
	}
	b := make(Batch, BatchSize)
	copy(b, s.current[:])
	return b
}

// TakeBatch holds the ADC for BatchSize reads spaced by the settle interval.
// A failed read aborts the cycle and leaves the previous batch in place. The
// radio is always handed back. When only the hand-back fails, the new batch
// is returned together with the error.
func (s *Sampler) TakeBatch(ctx context.Context, holder string) (Batch, error) {
	start := s.clock.Now()
	defer func() {
		s.metrics.Observe(observability.CycleSeconds, s.clock.Now().Sub(start).Seconds())
	}()

	if err := s.arbiter.AcquireForSampling(ctx, holder); err != nil {
		s.metrics.Inc(observability.SampleErrorsTotal)
		return nil, errors.Wrap(err, "failed to acquire adc")
	}
	batch, readErr := s.read(ctx)
	releaseErr := s.arbiter.ReleaseFromSampling(ctx)

	if readErr != nil {
		s.metrics.Inc(observability.SampleErrorsTotal)
		if releaseErr != nil {
			log.WithField("module", "gassensor").WithError(releaseErr).Warnln("failed to release adc")
		}
		return nil, readErr
	}

	s.mu.Lock()
	copy(s.current[:], batch)
	s.filled = true
	s.mu.Unlock()
	s.metrics.Inc(observability.BatchesTotal)

	if releaseErr != nil {
		return batch, errors.Wrap(releaseErr, "failed to release adc")
	}
	return batch, nil
}

func (s *Sampler) read(ctx context.Context) (Batch, error) {
	r0 := s.Baseline()
	batch := make(Batch, 0, BatchSize)
	for i := 0; i < BatchSize; i++ {
		if i > 0 {
			if err := scheduler.Wait(ctx, s.clock, s.settle); err != nil {
				return nil, errors.Wrap(err, "sampling interrupted")
			}
		}
		raw, err := s.source.Read()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read gas sensor (reading %d of %d)", i+1, BatchSize)
		}
		ppm, err := s.conv.PPM(raw, r0)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to convert raw value %d", raw)
		}
		at, err := s.wall.Now()
		if err != nil {
			at = time.Time{}
		}
		batch = append(batch, Reading{Raw: raw, PPM: ppm, CapturedAt: at})
		s.metrics.Inc(observability.ReadingsTotal)
	}
	return batch, nil
}
