package handoff

import (
	"context"
	"sync"
	"time"
)

// LockManager provides per-conversation mutual exclusion. No two handoffs
// for the same conversation can be mid-flight simultaneously; acquisition is
// bounded so a stuck transfer degrades to a "busy" rejection instead of
// blocking the caller indefinitely.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]*convLock
}

type convLock struct {
	sem  chan struct{}
	refs int
}

// NewLockManager creates a new lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*convLock)}
}

// TryAcquire attempts to take the lock for the given conversation, waiting
// at most maxWait. On success it returns a release function and true. On
// timeout or context cancellation it returns false.
func (m *LockManager) TryAcquire(ctx context.Context, conversationID string, maxWait time.Duration) (func(), bool) {
	m.mu.Lock()
	cl, ok := m.locks[conversationID]
	if !ok {
		cl = &convLock{sem: make(chan struct{}, 1)}
		m.locks[conversationID] = cl
	}
	cl.refs++
	m.mu.Unlock()

	acquired := false
	select {
	case cl.sem <- struct{}{}:
		acquired = true
	default:
		timer := time.NewTimer(maxWait)
		defer timer.Stop()
		select {
		case cl.sem <- struct{}{}:
			acquired = true
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	if !acquired {
		m.release(conversationID, cl, false)
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.release(conversationID, cl, true)
		})
	}, true
}

func (m *LockManager) release(conversationID string, cl *convLock, held bool) {
	if held {
		<-cl.sem
	}
	m.mu.Lock()
	cl.refs--
	if cl.refs <= 0 {
		delete(m.locks, conversationID)
	}
	m.mu.Unlock()
}

// Held reports whether the conversation lock is currently taken.
func (m *LockManager) Held(conversationID string) bool {
	m.mu.Lock()
	cl, ok := m.locks[conversationID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	return len(cl.sem) > 0
}

// Reset drops all lock state. For test isolation only; must not be called
// while locks are held.
func (m *LockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks = make(map[string]*convLock)
}
