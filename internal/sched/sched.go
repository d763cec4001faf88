// Package sched provides named, cancellable timers for lifecycle
// transitions: contest end timers, odds-lock expiries, and the match-queue
// pairing tick. A transition cancels its timer exactly once; cancelling an
// already-fired or unknown timer is a safe no-op.
package sched

import (
	"sync"
	"time"
)

// Scheduler tracks one-shot timers and periodic tickers by key.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	tickers map[string]chan struct{}
	stopped bool
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		timers:  make(map[string]*time.Timer),
		tickers: make(map[string]chan struct{}),
	}
}

// After schedules fn to run once after d, keyed by key. An existing timer
// under the same key is replaced. The key is released before fn runs, so fn
// may reschedule itself.
func (s *Scheduler) After(key string, d time.Duration, fn func()) {
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
		// Only clear if the slot still holds this timer; it may have been
		// replaced or cancelled between firing and acquiring the lock.
		if cur, ok := s.timers[key]; ok && cur == t {
			delete(s.timers, key)
		} else if ok {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = t
}

// Cancel stops the timer or ticker under key. Returns true if something was
// actually cancelled, false if the key was unknown or already fired.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		delete(s.timers, key)
		return t.Stop()
	}
	if done, ok := s.tickers[key]; ok {
		delete(s.tickers, key)
		close(done)
		return true
	}
	return false
}

// Every runs fn on a fixed interval until the key is cancelled or the
// scheduler stops. Replaces any existing ticker under the same key.
func (s *Scheduler) Every(key string, interval time.Duration, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old, ok := s.tickers[key]; ok {
		close(old)
	}
	done := make(chan struct{})
	s.tickers[key] = done
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop cancels every pending timer and ticker. The scheduler accepts no
// further work afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	for key, done := range s.tickers {
		close(done)
		delete(s.tickers, key)
	}
}
