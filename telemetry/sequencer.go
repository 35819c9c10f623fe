package telemetry

import "sync"

// Sequencer numbers outgoing requests so responses that land after a newer
// one has been applied can be dropped.
type Sequencer struct {
	mu      sync.Mutex
	issued  uint64
	applied uint64
}

// Next returns a new request number, greater than every earlier one.
func (s *Sequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

// Accept reports whether the response to request seq may be applied, and
// records it as the newest applied when so.
func (s *Sequencer) Accept(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.applied || seq > s.issued {
		return false
	}
	s.applied = seq
	return true
}

// Invalidate makes every request issued so far stale.
func (s *Sequencer) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied = s.issued
}

// Latest returns the newest applied request number.
func (s *Sequencer) Latest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}
