package conductor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	provider := NewMemoryLockProvider(time.Minute)

	lease, err := provider.Acquire(ctx, "workflow:wf_1", 0)
	require.NoError(t, err)
	require.NotNil(t, lease)

	// A second non-blocking attempt reports contention, not an error.
	second, err := provider.Acquire(ctx, "workflow:wf_1", 0)
	require.NoError(t, err)
	require.Nil(t, second)

	// A different key is independent.
	other, err := provider.Acquire(ctx, "workflow:wf_2", 0)
	require.NoError(t, err)
	require.NotNil(t, other)

	require.NoError(t, lease.Release(ctx))
	third, err := provider.Acquire(ctx, "workflow:wf_1", 0)
	require.NoError(t, err)
	require.NotNil(t, third)
}

func TestMemoryLockWaitForRelease(t *testing.T) {
	ctx := context.Background()
	provider := NewMemoryLockProvider(time.Minute)

	lease, err := provider.Acquire(ctx, "workflow:wf_1", 0)
	require.NoError(t, err)
	require.NotNil(t, lease)

	go func() {
		time.Sleep(30 * time.Millisecond)
		lease.Release(ctx)
	}()

	waited, err := provider.Acquire(ctx, "workflow:wf_1", time.Second)
	require.NoError(t, err)
	require.NotNil(t, waited)
}

func TestMemoryLockExpiredLeaseIsStolen(t *testing.T) {
	ctx := context.Background()
	provider := NewMemoryLockProvider(20 * time.Millisecond)

	first, err := provider.Acquire(ctx, "workflow:wf_1", 0)
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(40 * time.Millisecond)

	second, err := provider.Acquire(ctx, "workflow:wf_1", 0)
	require.NoError(t, err)
	require.NotNil(t, second)

	// The original holder learns its lease lapsed.
	require.ErrorIs(t, first.Release(ctx), ErrLeaseExpired)

	// The steal's lease is unaffected by the stale release.
	require.NoError(t, second.Release(ctx))
}

func TestLeaseExpiredReleaseStillFreesBackend(t *testing.T) {
	ctx := context.Background()
	released := false
	lease := NewLease("workflow:wf_1", "node-1", time.Now().Add(-time.Second),
		func(ctx context.Context) error {
			released = true
			return nil
		})

	// The caller learns the TTL lapsed, but the backend resources backing
	// the lease are still freed.
	require.ErrorIs(t, lease.Release(ctx), ErrLeaseExpired)
	require.True(t, released)
	require.NoError(t, lease.Release(ctx))
}

func TestMemoryLockReleaseIdempotent(t *testing.T) {
	ctx := context.Background()
	provider := NewMemoryLockProvider(time.Minute)

	lease, err := provider.Acquire(ctx, "workflow:wf_1", 0)
	require.NoError(t, err)
	require.NoError(t, lease.Release(ctx))
	require.NoError(t, lease.Release(ctx))
}

func TestMemoryLockConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	provider := NewMemoryLockProvider(time.Minute)

	const attempts = 16
	var wg sync.WaitGroup
	var mutex sync.Mutex
	var granted []*Lease

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := provider.Acquire(ctx, "workflow:wf_1", 0)
			require.NoError(t, err)
			if lease != nil {
				mutex.Lock()
				granted = append(granted, lease)
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, granted, 1)
}
