// Package poll runs a function on a fixed period for as long as a view is
// active.
package poll

import (
	"context"
	"sync"
	"time"

	"floorview/logging"
)

// DefaultPeriod is the telemetry refresh period.
const DefaultPeriod = 4 * time.Second

// Func is one poll. It should honor ctx, which is cancelled by Stop.
type Func func(ctx context.Context) error

// Stats summarizes a scheduler's activity.
type Stats struct {
	Ticks     int       `json:"ticks"`
	Failures  int       `json:"failures"`
	LastPoll  time.Time `json:"last_poll"`
	LastError string    `json:"last_error,omitempty"`
	Running   bool      `json:"running"`
}

// Scheduler fires one poll immediately on Start and then every Period.
// Start and Stop are idempotent; at most one loop runs at a time.
type Scheduler struct {
	name   string
	period time.Duration
	fn     Func

	lifecycle sync.Mutex // serializes Start and Stop

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	run     uint64 // bumped by every Start

	statsMu sync.RWMutex
	stats   Stats
}

// New creates a stopped scheduler. A non-positive period uses DefaultPeriod.
func New(name string, period time.Duration, fn Func) *Scheduler {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Scheduler{name: name, period: period, fn: fn}
}

// Period returns the poll period.
func (s *Scheduler) Period() time.Duration { return s.period }

// Start begins polling. It returns false if already running.
func (s *Scheduler) Start(parent context.Context) bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.running = true
	s.run++

	s.wg.Add(1)
	go s.loop(ctx, s.run)
	logging.DebugLog("poll", "%s: started, period %v", s.name, s.period)
	return true
}

// Stop halts polling and waits for an in-flight poll to return. It returns
// false if not running. It must not be called from inside the poll function.
func (s *Scheduler) Stop() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	logging.DebugLog("poll", "%s: stopped", s.name)
	return true
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats returns a copy of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	s.statsMu.RLock()
	st := s.stats
	s.statsMu.RUnlock()
	st.Running = s.Running()
	return st
}

func (s *Scheduler) loop(ctx context.Context, run uint64) {
	defer s.wg.Done()
	defer s.finish(run)

	s.tick(ctx)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// finish marks the scheduler stopped when its parent context ended the
// loop. After Stop, or once a newer Start took over, it does nothing.
func (s *Scheduler) finish(run uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.run != run {
		return
	}
	s.running = false
	s.cancel()
	s.cancel = nil
	logging.DebugLog("poll", "%s: context ended, stopped", s.name)
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := s.fn(ctx)

	s.statsMu.Lock()
	s.stats.Ticks++
	s.stats.LastPoll = time.Now()
	if err != nil && ctx.Err() == nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else if err == nil {
		s.stats.LastError = ""
	}
	s.statsMu.Unlock()

	if err != nil && ctx.Err() == nil {
		logging.DebugLog("poll", "%s: poll failed: %v", s.name, err)
	}
}
