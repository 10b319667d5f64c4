package densemap

import (
	"time"
)

// timedMutex is an exclusive lock whose acquisition can be bounded by a
// timeout, so map readers can fail fast instead of stalling behind a long
// fusion pass. Helpers that run under the lock are structured as *Locked
// methods rather than re-acquiring.
type timedMutex struct {
	ch chan struct{}
}

func newTimedMutex() *timedMutex {
	return &timedMutex{ch: make(chan struct{}, 1)}
}

// Lock blocks until the lock is acquired.
func (m *timedMutex) Lock() {
	m.ch <- struct{}{}
}

// TryLockWithTimeout attempts to acquire the lock, giving up after the given
// duration. It reports whether the lock was acquired. A non-positive timeout
// is a single non-blocking attempt.
func (m *timedMutex) TryLockWithTimeout(d time.Duration) bool {
	if d <= 0 {
		select {
		case m.ch <- struct{}{}:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case m.ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

// Unlock releases the lock. It must only be called by the holder.
func (m *timedMutex) Unlock() {
	select {
	case <-m.ch:
	default:
		panic("unlock of unlocked timedMutex")
	}
}
