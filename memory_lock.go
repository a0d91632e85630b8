package conductor

import (
	"context"
	"sync"
	"time"

	"go.jetify.com/typeid"
)

const lockRetryInterval = 10 * time.Millisecond

// MemoryLockProvider is an in-process LockProvider with TTL-based expiry.
// It provides the same lease semantics as the distributed backends and is
// intended for tests and single-process deployments.
type MemoryLockProvider struct {
	mutex  sync.Mutex
	ttl    time.Duration
	leases map[string]memoryLease
}

type memoryLease struct {
	holder    string
	expiresAt time.Time
}

// NewMemoryLockProvider creates an in-process lock provider whose leases
// expire after ttl.
func NewMemoryLockProvider(ttl time.Duration) *MemoryLockProvider {
	return &MemoryLockProvider{
		ttl:    ttl,
		leases: map[string]memoryLease{},
	}
}

// Acquire attempts to obtain a lease on the resource key
func (p *MemoryLockProvider) Acquire(ctx context.Context, key string, timeout time.Duration) (*Lease, error) {
	holder, err := typeid.WithPrefix("holder")
	if err != nil {
		panic(err)
	}
	deadline := time.Now().Add(timeout)

	for {
		if lease := p.tryAcquire(key, holder.String()); lease != nil {
			return lease, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (p *MemoryLockProvider) tryAcquire(key, holder string) *Lease {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	now := time.Now()
	if existing, held := p.leases[key]; held && now.Before(existing.expiresAt) {
		return nil
	}
	expiresAt := now.Add(p.ttl)
	p.leases[key] = memoryLease{holder: holder, expiresAt: expiresAt}

	return NewLease(key, holder, expiresAt, func(ctx context.Context) error {
		p.mutex.Lock()
		defer p.mutex.Unlock()

		// Compare-and-delete: only the current holder may release; a lease
		// stolen after expiry belongs to someone else now.
		if current, held := p.leases[key]; held && current.holder == holder {
			delete(p.leases, key)
		}
		return nil
	})
}
