package pinmap

import (
	"sync/atomic"

	"github.com/llxisdsh/pinmap/internal/opt"
)

// latch is a synchronization primitive for "wait for completion" (One-Way Door).
// It supports multiple waiters.
// Once open() is called, all current and future wait() calls return immediately.
// Migrations and table sweeps publish their completion through one.
type latch struct {
	_ noCopy
	// state 32-bit:
	//   bit 0: done flag (1 = done)
	//   bits 1-31: waiter count
	state atomic.Uint32
	sema  opt.Sema
}

const (
	latchDoneFlag  = 1
	latchOneWaiter = 2 // 1 << 1
)

// open opens the door.
// It wakes up all currently blocked waiters.
// Any future calls to wait() will return immediately.
// open() is idempotent (can be called multiple times).
func (e *latch) open() {
	for {
		s := e.state.Load()
		if s&latchDoneFlag != 0 {
			return
		}
		if e.state.CompareAndSwap(s, s|latchDoneFlag) {
			waiters := s >> 1
			for range waiters {
				e.sema.Release()
			}
			return
		}
	}
}

// wait blocks until open is called.
// If open has already been called, it returns immediately.
func (e *latch) wait() {
	for {
		s := e.state.Load()
		if s&latchDoneFlag != 0 {
			return
		}

		if e.state.CompareAndSwap(s, s+latchOneWaiter) {
			e.sema.Acquire()
			return
		}
	}
}
