// Package control provides the cooperative pause/stop signal shared by all
// segment workers of one job. Workers consult it between buffer reads, so
// cancellation is observed at per-chunk granularity rather than preemptively.
package control

import "sync"

// Signal carries two flags: paused (toggleable) and stopped (one-way). All
// methods are idempotent and safe to call from any goroutine. Once stopped,
// pause and resume have no further effect; a new download needs a new Signal.
type Signal struct {
	mu       sync.Mutex
	paused   bool
	stopped  bool
	resumeCh chan struct{}
	stopCh   chan struct{}
}

func NewSignal() *Signal {
	return &Signal{stopCh: make(chan struct{})}
}

func (s *Signal) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.paused {
		return
	}
	s.paused = true
	s.resumeCh = make(chan struct{})
}

func (s *Signal) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || !s.paused {
		return
	}
	s.paused = false
	close(s.resumeCh)
}

// Stop is terminal. A paused worker blocked on the resume gate is released
// so it can observe the stop flag and exit.
func (s *Signal) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	if s.paused {
		s.paused = false
		close(s.resumeCh)
	}
}

func (s *Signal) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Signal) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Done returns a channel closed when Stop is called.
func (s *Signal) Done() <-chan struct{} {
	return s.stopCh
}

// WaitIfPaused blocks while the signal is paused and returns false if stop
// was requested before or during the wait. Workers call this before every
// read so pause throttles local consumption without renegotiating the range.
func (s *Signal) WaitIfPaused() bool {
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return false
		}
		if !s.paused {
			s.mu.Unlock()
			return true
		}
		gate := s.resumeCh
		s.mu.Unlock()
		<-gate
	}
}
