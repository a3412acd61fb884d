// Package lockcache provides the short-TTL key/value cache backing the
// status agent's distributed lock.
//
// The lock is cooperative: a collision costs a duplicated (idempotent)
// cluster poll, never a corrupted job state, so acquisition is a plain
// set-if-absent with TTL and crashed holders recover via expiry.
package lockcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// Cache is a minimal TTL key/value store.
type Cache interface {
	// SetNX stores value under key with a TTL iff the key is absent,
	// reporting whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value and whether the key exists (and is unexpired).
	Get(ctx context.Context, key string) (string, bool, error)

	// Del removes the key.
	Del(ctx context.Context, key string) error
}

const lockKeyPrefix = "status_agent_lock:"

type lockValue struct {
	Owner string `json:"owner"`
}

// Locker grants exclusive status polling for a cluster host to one replica.
type Locker struct {
	cache Cache
	owner string
}

// NewLocker builds a Locker whose owner identity is the hostname plus a
// per-process suffix, so two replicas on one machine stay distinct.
func NewLocker(cache Cache) *Locker {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Locker{
		cache: cache,
		owner: hostname + "-" + uuid.New().String()[:8],
	}
}

func (l *Locker) Owner() string {
	return l.owner
}

// Acquire attempts to take the polling lock for a cluster host.
func (l *Locker) Acquire(ctx context.Context, host string, ttl time.Duration) (bool, error) {
	value, err := json.Marshal(lockValue{Owner: l.owner})
	if err != nil {
		return false, fmt.Errorf("encode lock value: %w", err)
	}
	ok, err := l.cache.SetNX(ctx, lockKeyPrefix+host, string(value), ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lock for %s: %w", host, err)
	}
	return ok, nil
}

// Release drops the lock if this replica still holds it. Releasing a lock
// that expired (or was taken over) is a no-op.
func (l *Locker) Release(ctx context.Context, host string) error {
	key := lockKeyPrefix + host
	raw, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read lock for %s: %w", host, err)
	}
	if !ok {
		return nil
	}
	var v lockValue
	if err := json.Unmarshal([]byte(raw), &v); err == nil && v.Owner != l.owner {
		return nil
	}
	if err := l.cache.Del(ctx, key); err != nil {
		return fmt.Errorf("release lock for %s: %w", host, err)
	}
	return nil
}

// Held reports whether any replica currently holds the lock for host.
func (l *Locker) Held(ctx context.Context, host string) (bool, error) {
	_, ok, err := l.cache.Get(ctx, lockKeyPrefix+host)
	return ok, err
}
