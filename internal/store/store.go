// Package store implements the durable key-value state store consumed by the
// scheduler: session-affinity mappings, rotation cursors, and usage counters.
// Two implementations are provided: a SQLite-backed store for production and
// an in-memory store for tests and stateless deployments.
package store

import (
	"context"
	"time"
)

// Store is a string key-value store with optional per-key expiry and an
// atomic counter primitive.
//
// Expiry is lazy: an expired key reads as absent. The SQLite implementation
// additionally runs a scheduled purge (see Purger) to bound table growth.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent
	// or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key with no expiry.
	Set(ctx context.Context, key, value string) error

	// SetWithTTL stores value under key, expiring after ttl.
	// A non-positive ttl behaves like Set.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the integer counter at key by one and
	// returns the new value. An absent or expired key counts from zero.
	// A positive ttl refreshes the key's expiry on every increment
	// (cleanup backstop for usage counters); zero leaves expiry untouched.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
