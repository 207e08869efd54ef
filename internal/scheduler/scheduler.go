// Package scheduler runs one-shot timers keyed by session and recurring
// jobs such as the stale reservation sweep.  Time comes from an injected
// clockwork.Clock so tests can move it by hand.
package scheduler

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/gommon/log"
)

type pending struct {
	timer clockwork.Timer
	gen   uint64
}

// Scheduler owns every timer of the process.
type Scheduler struct {
	clock clockwork.Clock
	log   *log.Logger

	mu      sync.Mutex
	gen     uint64
	timers  map[string]pending
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

func New(clock clockwork.Clock, logger *log.Logger) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, log: logger, timers: make(map[string]pending), stop: make(chan struct{})}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() clockwork.Clock { return s.clock }

// ScheduleOnce runs cb after delay.  A timer already pending for key is
// replaced, so only the latest one can fire.
func (s *Scheduler) ScheduleOnce(delay time.Duration, key string, cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.timers[key]
		if !ok || cur.gen != gen || s.stopped {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()
		cb()
	})
	s.timers[key] = pending{timer: t, gen: gen}
}

// Cancel drops the pending timer of key.  It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.timers[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(s.timers, key)
	return true
}

// Pending returns the number of armed one-shot timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// ScheduleRecurring runs cb every period until Stop.  Runs never overlap;
// a tick that arrives while cb is running is dropped.
func (s *Scheduler) ScheduleRecurring(period time.Duration, name string, cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	ticker := s.clock.NewTicker(period)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.Chan():
				s.log.Debugf("running %s", name)
				cb()
			}
		}
	}()
}

// Stop cancels every timer and waits for recurring jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for key, p := range s.timers {
		p.timer.Stop()
		delete(s.timers, key)
	}
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
}
