//go:build race

package opt

import (
	"sync"
)

const Race_ = true

// Sema is a semaphore wrapper. The runtime semaphore does not annotate
// happens-before edges for the race detector, so in race mode it is replaced
// with a mutex/cond implementation the detector can follow.
type Sema struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    uint32
}

func (s *Sema) Acquire() {
	s.mu.Lock()
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
	for s.n == 0 {
		s.cond.Wait()
	}
	s.n--
	s.mu.Unlock()
}

func (s *Sema) Release() {
	s.mu.Lock()
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
	s.n++
	s.cond.Signal()
	s.mu.Unlock()
}
