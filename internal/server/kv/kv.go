// Package kv abstracts the shared document store: a keyed value store with
// per-key TTL, hash fields, prefix scans, and optimistic transactions in the
// style of Redis WATCH/MULTI/EXEC. Two implementations exist: an in-process
// memory store and a Postgres-backed one.
package kv

import (
	"context"
	"time"
)

// Store is the shared key-value store all devices synchronize through.
//
// Contract:
//   - Get returns common.ErrNotFound for absent or expired keys.
//   - Set with ttl <= 0 stores the value without expiry.
//   - Delete removes several keys in one batch and ignores absent ones.
//   - Keys returns every live key starting with prefix.
//   - Hash operations address fields inside a single hash key; Expire
//     refreshes the TTL of a whole key (plain or hash).
//   - Watch begins an optimistic transaction on one key. The returned Tx
//     commits only if the key was not modified between Watch and Commit.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HSet(ctx context.Context, key, field string, value []byte, ttl time.Duration) error
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)
	HDel(ctx context.Context, key string, fields ...string) error

	Watch(ctx context.Context, key string) (Tx, error)
}

// Tx is a single optimistic write attempt against a watched key.
//
// Commit writes the value with the given TTL and fails with
// common.ErrConflict if another writer touched the key since Watch.
// Unwatch releases the watch without writing; leaving a watch dangling on a
// shared connection poisons subsequent transactions, so every Watch must end
// in exactly one Commit or Unwatch.
type Tx interface {
	Commit(ctx context.Context, value []byte, ttl time.Duration) error
	Unwatch(ctx context.Context) error
}
