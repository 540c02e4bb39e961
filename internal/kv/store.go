// Package kv defines the key-value store contract the rest of vmwall
// depends on, plus an in-memory, TTL-aware implementation of it.
package kv

import (
	"context"
	"time"
)

// Store is the subset of a Redis-like KV API that challenge sessions, risk
// scoring, and the manager read surface need. A production deployment
// backs this with a real store; Mem is the only implementation carried
// here.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetAndDelete(ctx context.Context, key string) ([]byte, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Scan(ctx context.Context, prefix string) ([]string, error)

	LPush(ctx context.Context, key string, value []byte, cap int) error
	LRange(ctx context.Context, key string, start, stop int) ([][]byte, error)
	LLen(ctx context.Context, key string) (int, error)

	// Incr atomically increments key by delta, creating it at delta if
	// absent, and sets its TTL if it was just created. Used by the risk
	// package's request counters and ASN block counters.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// ErrNotFound is returned by Get/GetAndDelete for a missing or expired key.
type notFoundError struct{ key string }

func (e *notFoundError) Error() string { return "kv: key not found: " + e.key }

func ErrNotFound(key string) error { return &notFoundError{key: key} }

func IsNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}
