package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/reef-pi/aqnode/controller/arbiter"
	"github.com/reef-pi/aqnode/controller/scheduler"
)

// Simulated is a radio that associates after a fixed delay. Used in dev mode.
type Simulated struct {
	clock   scheduler.Clock
	delay   time.Duration
	address string

	mu         sync.Mutex
	connecting bool
	since      time.Time
}

func NewSimulated(clock scheduler.Clock, delay time.Duration) *Simulated {
	if clock == nil {
		clock = scheduler.SystemClock()
	}
	return &Simulated{clock: clock, delay: delay, address: "127.0.0.1"}
}

func (s *Simulated) Connect(_ context.Context, _ arbiter.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connecting {
		s.connecting = true
		s.since = s.clock.Now()
	}
	return nil
}

func (s *Simulated) Disconnect(_ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = false
	return nil
}

func (s *Simulated) Status() arbiter.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connecting {
		return arbiter.Disconnected
	}
	if s.clock.Now().Sub(s.since) < s.delay {
		return arbiter.Connecting
	}
	return arbiter.Connected
}

func (s *Simulated) LocalAddress() string {
	if s.Status() != arbiter.Connected {
		return ""
	}
	return s.address
}
