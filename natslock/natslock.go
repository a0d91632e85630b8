// Package natslock provides a LockProvider backed by a NATS JetStream
// key-value bucket. A lease is a key created with Create, which fails when
// the key exists, giving cluster-wide mutual exclusion. The bucket's TTL
// reclaims keys left behind by crashed holders; release deletes the key
// only when the holder recorded in it is still ours.
package natslock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/deepnoodle-ai/conductor"
)

const defaultRetryInterval = 50 * time.Millisecond

// ProviderOptions configures a NATS KV lock provider.
type ProviderOptions struct {
	Conn *nats.Conn

	// Bucket names the KV bucket holding leases. Created when missing.
	Bucket string

	// TTL is the bucket-level key TTL: the lease duration.
	TTL time.Duration

	// NodeID identifies this node in lease records.
	NodeID string

	// RetryInterval is the poll period while waiting for a contended lock.
	RetryInterval time.Duration
}

// Provider implements conductor.LockProvider on a JetStream KV bucket.
type Provider struct {
	kv            jetstream.KeyValue
	ttl           time.Duration
	nodeID        string
	retryInterval time.Duration
}

// leaseRecord is the JSON value stored under a lock key.
type leaseRecord struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewProvider creates the KV bucket when needed and returns a provider.
func NewProvider(ctx context.Context, opts ProviderOptions) (*Provider, error) {
	if opts.Conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	if opts.Bucket == "" {
		opts.Bucket = "WORKFLOW_LOCKS"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = defaultRetryInterval
	}

	js, err := jetstream.New(opts.Conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	kv, err := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: opts.Bucket,
		TTL:    opts.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure lock bucket: %w", err)
	}
	return &Provider{
		kv:            kv,
		ttl:           opts.TTL,
		nodeID:        opts.NodeID,
		retryInterval: opts.RetryInterval,
	}, nil
}

// Acquire obtains a lease on the key, waiting up to timeout when the lease
// is held elsewhere. Returns (nil, nil) when the lease stayed contended for
// the whole timeout.
func (p *Provider) Acquire(ctx context.Context, key string, timeout time.Duration) (*conductor.Lease, error) {
	storageKey := sanitizeKey(key)
	deadline := time.Now().Add(timeout)
	for {
		lease, err := p.tryAcquire(ctx, key, storageKey)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return lease, nil
		}
		if time.Now().Add(p.retryInterval).After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.retryInterval):
		}
	}
}

func (p *Provider) tryAcquire(ctx context.Context, key, storageKey string) (*conductor.Lease, error) {
	expiresAt := time.Now().Add(p.ttl)
	record, err := json.Marshal(leaseRecord{Holder: p.nodeID, ExpiresAt: expiresAt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lease record: %w", err)
	}

	revision, err := p.kv.Create(ctx, storageKey, record)
	if errors.Is(err, jetstream.ErrKeyExists) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lease key: %w", err)
	}

	release := func(ctx context.Context) error {
		return p.release(ctx, storageKey, revision)
	}
	return conductor.NewLease(key, p.nodeID, expiresAt, release), nil
}

// release deletes the lease key only at the revision we created: if the
// bucket TTL already reclaimed the key and someone else re-created it,
// the revision check keeps us from deleting their lease.
func (p *Provider) release(ctx context.Context, storageKey string, revision uint64) error {
	err := p.kv.Delete(ctx, storageKey, jetstream.LastRevision(revision))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete lease key: %w", err)
	}
	return nil
}

// sanitizeKey maps lease keys into the KV bucket's allowed key alphabet.
func sanitizeKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9',
			c == '-', c == '_', c == '.':
			out[i] = c
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
