package conductor

import (
	"context"
	"fmt"
	"time"
)

// InstanceLockKey returns the canonical lock resource key for an instance.
func InstanceLockKey(instanceID string) string {
	return "workflow:" + instanceID
}

// LockProvider acquires named leases with a TTL across nodes. At most one
// valid (non-expired) lease exists per resource key cluster-wide.
type LockProvider interface {
	// Acquire attempts to obtain a lease on the resource key, waiting up
	// to timeout for a contended lease. Returns (nil, nil) when the lease
	// could not be obtained within the timeout: contention is an expected
	// outcome, not a fault. A non-nil error means the lock backend itself
	// failed and the caller must surface a retryable error rather than
	// proceed without a lock.
	Acquire(ctx context.Context, key string, timeout time.Duration) (*Lease, error)
}

// Lease is a scoped lock acquisition. Release must be called on every exit
// path; the backend's TTL independently ensures a crashed holder cannot
// produce a permanent deadlock.
type Lease struct {
	key       string
	holder    string
	expiresAt time.Time
	release   func(ctx context.Context) error
	released  bool
}

// NewLease is used by lock provider implementations to construct a lease.
func NewLease(key, holder string, expiresAt time.Time, release func(ctx context.Context) error) *Lease {
	return &Lease{key: key, holder: holder, expiresAt: expiresAt, release: release}
}

// Key returns the locked resource key
func (l *Lease) Key() string {
	return l.key
}

// Holder returns the identity of the lease holder
func (l *Lease) Holder() string {
	return l.holder
}

// ExpiresAt returns the time at which the backend will expire the lease
func (l *Lease) ExpiresAt() time.Time {
	return l.expiresAt
}

// Expired reports whether the lease TTL has already lapsed. Callers should
// check this before committing work performed under the lease.
func (l *Lease) Expired(now time.Time) bool {
	return now.After(l.expiresAt)
}

// Release returns the lease to the backend. Releasing twice is a no-op.
// Returns ErrLeaseExpired if the TTL lapsed before release, in which case
// the lease may already have been granted to another holder. The backend
// release still runs on a lapsed lease: backends guard releases against
// later holders themselves, and resources tied to the lease (such as a
// pinned connection) must be freed on every exit path.
func (l *Lease) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true
	if l.release != nil {
		if err := l.release(ctx); err != nil {
			return fmt.Errorf("release lease %q: %w", l.key, err)
		}
	}
	if l.Expired(time.Now()) {
		return ErrLeaseExpired
	}
	return nil
}
