// Package pglock provides a LockProvider built on PostgreSQL advisory
// locks. Advisory locks are session-scoped, so every lease pins a dedicated
// connection for its lifetime; releasing the lease unlocks and returns the
// connection to the pool.
package pglock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/deepnoodle-ai/conductor"
)

const defaultRetryInterval = 50 * time.Millisecond

// Open opens a database handle for the provider using the pq driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// ProviderOptions configures an advisory lock provider.
type ProviderOptions struct {
	DB *sql.DB

	// TTL bounds how long a lease is considered valid by the engine. The
	// advisory lock itself lives until release or connection loss; the TTL
	// guards burst commits against a holder that lost its session.
	TTL time.Duration

	// RetryInterval is the poll period while waiting for a contended lock.
	RetryInterval time.Duration

	// NodeID labels leases with their holder for diagnostics.
	NodeID string
}

// Provider implements conductor.LockProvider on advisory locks.
type Provider struct {
	db            *sql.DB
	ttl           time.Duration
	retryInterval time.Duration
	nodeID        string
}

// NewProvider creates an advisory lock provider.
func NewProvider(opts ProviderOptions) (*Provider, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("db is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}
	return &Provider{
		db:            opts.DB,
		ttl:           opts.TTL,
		retryInterval: opts.RetryInterval,
		nodeID:        opts.NodeID,
	}, nil
}

// Acquire obtains an advisory lock on the key, waiting up to timeout when
// the lock is contended. Returns (nil, nil) when the lock stayed contended
// for the whole timeout.
func (p *Provider) Acquire(ctx context.Context, key string, timeout time.Duration) (*conductor.Lease, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain connection: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		var locked bool
		err := conn.QueryRowContext(ctx,
			`SELECT pg_try_advisory_lock(hashtext($1))`, key).Scan(&locked)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to acquire advisory lock: %w", err)
		}
		if locked {
			break
		}
		if time.Now().Add(p.retryInterval).After(deadline) {
			conn.Close()
			return nil, nil
		}
		select {
		case <-ctx.Done():
			conn.Close()
			return nil, ctx.Err()
		case <-time.After(p.retryInterval):
		}
	}

	expiresAt := time.Now().Add(p.ttl)
	release := func(ctx context.Context) error {
		defer conn.Close()
		if _, err := conn.ExecContext(ctx,
			`SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			return fmt.Errorf("failed to release advisory lock: %w", err)
		}
		return nil
	}
	return conductor.NewLease(key, p.nodeID, expiresAt, release), nil
}
