// Package store provides the shared key/value and set state used by the
// gateway's registry, channel directory, and rate limiter. Two backends
// exist: an in-process store for single-instance deployments and a Redis
// store for sharing state across gateway instances. Callers always go
// through the Store interface, never a process-wide map.
package store

import (
	"context"
	"time"
)

// Store is the single synchronization boundary for all shared gateway
// state. A ttl of zero means the entry never expires. Implementations must
// be safe for concurrent use.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key with the given ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// AddToSet adds member to the set at setKey and refreshes the set's ttl.
	// Reports whether the member was newly added.
	AddToSet(ctx context.Context, setKey, member string, ttl time.Duration) (bool, error)

	// RemoveFromSet removes member from the set at setKey. Reports whether
	// the member was present.
	RemoveFromSet(ctx context.Context, setKey, member string) (bool, error)

	// MembersOf returns a snapshot of the set at setKey.
	MembersOf(ctx context.Context, setKey string) ([]string, error)

	// Increment atomically increments the counter at key and returns the new
	// value. The ttl is applied when the counter is created, which makes the
	// counter a fixed window starting at its first increment.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
