package handoff

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockManager_AcquireRelease(t *testing.T) {
	m := NewLockManager()

	release, ok := m.TryAcquire(context.Background(), "c1", time.Second)
	require.True(t, ok)
	assert.True(t, m.Held("c1"))

	// Second acquire on the same conversation times out.
	_, ok = m.TryAcquire(context.Background(), "c1", 50*time.Millisecond)
	assert.False(t, ok)

	// A different conversation is independent.
	release2, ok := m.TryAcquire(context.Background(), "c2", 50*time.Millisecond)
	require.True(t, ok)
	release2()

	release()
	assert.False(t, m.Held("c1"))

	// Released lock can be re-acquired.
	release3, ok := m.TryAcquire(context.Background(), "c1", 50*time.Millisecond)
	require.True(t, ok)
	release3()
}

func TestLockManager_DoubleReleaseSafe(t *testing.T) {
	m := NewLockManager()

	release, ok := m.TryAcquire(context.Background(), "c1", time.Second)
	require.True(t, ok)
	release()
	release() // must be a no-op

	release2, ok := m.TryAcquire(context.Background(), "c1", 50*time.Millisecond)
	require.True(t, ok)
	release2()
}

func TestLockManager_ContextCancel(t *testing.T) {
	m := NewLockManager()

	release, ok := m.TryAcquire(context.Background(), "c1", time.Second)
	require.True(t, ok)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, ok = m.TryAcquire(ctx, "c1", 5*time.Second)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLockManager_MutualExclusionUnderLoad(t *testing.T) {
	m := NewLockManager()

	const workers = 32
	var inCritical, maxInCritical, violations int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, ok := m.TryAcquire(context.Background(), "c1", 5*time.Second)
			if !ok {
				return
			}
			mu.Lock()
			inCritical++
			if inCritical > maxInCritical {
				maxInCritical = inCritical
			}
			if inCritical > 1 {
				violations++
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inCritical--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, violations)
	assert.Equal(t, 1, maxInCritical)
	assert.False(t, m.Held("c1"))
}
