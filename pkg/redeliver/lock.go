package redeliver

import (
	"context"
	"time"
)

// LockLease identifies one held distributed lock.
type LockLease struct {
	Key      string
	Token    string
	ExpireAt time.Time
}

// LockProvider coordinates singleton draining across multiple coordinator
// instances: only the lease holder replays a batch, so two instances never
// race each other over the same records beyond the store-level tolerance.
type LockProvider interface {
	// Acquire attempts to take the lock. The second return value reports
	// whether the lock was obtained; losing the race is not an error.
	Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error)
	// Release unlocks the key when the lease token still matches.
	Release(ctx context.Context, lease *LockLease) error
	// HealthCheck verifies the lock backend is reachable.
	HealthCheck(ctx context.Context) error
	// Close releases provider resources.
	Close() error
}
