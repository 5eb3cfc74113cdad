package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrNotReady is returned by a job that declines to run on this tick.
// The job's last firing time is left untouched so it is due again next tick.
var ErrNotReady = errors.New("job not ready")

// Job is a named periodic action. Run is invoked from the tick loop.
type Job struct {
	Name    string
	Trigger Trigger
	Run     func(context.Context) error
}

// JobState is a snapshot of a registered job.
type JobState struct {
	Name        string
	Trigger     string
	LastFiredAt time.Time
	Runs        int
	LastErr     error
}

type entry struct {
	job     Job
	last    time.Time
	runs    int
	lastErr error
}

// Scheduler runs due jobs in registration order on every tick.
// Jobs never overlap: a tick runs each due job to completion before checking the next.
type Scheduler struct {
	clock Clock
	mu    sync.Mutex
	jobs  []*entry
}

func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{clock: clock}
}

func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Trigger == nil || job.Run == nil {
		return fmt.Errorf("job requires name, trigger and run function")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.jobs {
		if e.job.Name == job.Name {
			return fmt.Errorf("job %s already registered", job.Name)
		}
	}
	s.jobs = append(s.jobs, &entry{job: job})
	log.WithField("module", "scheduler").Infoln("registered job:", job.Name, job.Trigger)
	return nil
}

// Tick fires every due job once and returns how many ran.
// The firing time recorded is the time the job started, and it is only
// recorded after the run completes.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.mu.Lock()
	jobs := make([]*entry, len(s.jobs))
	copy(jobs, s.jobs)
	s.mu.Unlock()

	fired := 0
	for _, e := range jobs {
		if ctx.Err() != nil {
			return fired
		}
		now := s.clock.Now()
		s.mu.Lock()
		last := e.last
		s.mu.Unlock()
		if !e.job.Trigger.Due(now, last) {
			continue
		}
		err := e.job.Run(ctx)
		if errors.Is(err, ErrNotReady) {
			log.WithField("module", "scheduler").Debugln("job not ready:", e.job.Name)
			continue
		}
		if err != nil {
			log.WithFields(log.Fields{"module": "scheduler", "job": e.job.Name}).WithError(err).Warnln("job failed")
		}
		s.mu.Lock()
		e.last = now
		e.runs++
		e.lastErr = err
		s.mu.Unlock()
		fired++
	}
	return fired
}

// Run ticks until ctx is done. onTick, when set, is called after every tick.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, onTick func(time.Time)) error {
	for {
		s.Tick(ctx)
		if onTick != nil {
			onTick(s.clock.Now())
		}
		if err := Wait(ctx, s.clock, interval); err != nil {
			return err
		}
	}
}

func (s *Scheduler) State() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]JobState, 0, len(s.jobs))
	for _, e := range s.jobs {
		states = append(states, JobState{
			Name:        e.job.Name,
			Trigger:     e.job.Trigger.String(),
			LastFiredAt: e.last,
			Runs:        e.runs,
			LastErr:     e.lastErr,
		})
	}
	return states
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
