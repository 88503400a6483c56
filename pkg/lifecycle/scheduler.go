package lifecycle

import (
	"sync"
	"time"
)

// Scheduler owns every armed lifecycle timer, keyed by zone ID. At most
// one timer is armed per zone: arming always cancels the previous handle
// first. Handles are in-process and disposable; they are rebuilt from
// durable state after a restart.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewScheduler creates an empty scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{
		timers: make(map[string]*time.Timer),
	}
}

// Arm schedules fire to run after d, replacing any timer already armed
// for the zone. No-op after Stop.
func (s *Scheduler) Arm(zoneID string, d time.Duration, fire func()) {
	if d < 0 {
		d = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if t, ok := s.timers[zoneID]; ok {
		t.Stop()
	}

	s.timers[zoneID] = time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, zoneID)
		stopped := s.stopped
		s.mu.Unlock()
		if !stopped {
			fire()
		}
	})
}

// Cancel stops the zone's armed timer. Canceling a timer that already
// fired is a benign no-op.
func (s *Scheduler) Cancel(zoneID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[zoneID]; ok {
		t.Stop()
		delete(s.timers, zoneID)
	}
}

// Armed reports whether the zone currently has a timer armed
func (s *Scheduler) Armed(zoneID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[zoneID]
	return ok
}

// Stop cancels everything and refuses further arming. Used at process
// shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
