package service

import (
	"sync"
	"time"
)

// timerSet holds at most one pending timer per key. Re-arming a key
// replaces its timer; a replaced or cancelled timer never runs.
type timerSet struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[string]*time.Timer)}
}

func (s *timerSet) arm(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timers[key] != t {
			s.mu.Unlock()
			return
		}
		delete(s.timers, key)
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = t
}

// cancel reports whether a pending timer was removed.
func (s *timerSet) cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, key)
	return true
}

func (s *timerSet) pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

func (s *timerSet) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}
