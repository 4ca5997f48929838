// Package docstore provides the compare-and-swap update primitive every
// race-document mutation goes through. It layers a typed read-modify-write
// cycle on the kv.Store optimistic transactions.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/server/kv"
)

// maxAttempts bounds the watch-retry loop. Retries are immediate: each cycle
// is a cheap read-modify-write and contention windows are sub-millisecond,
// so backoff would only add latency.
const maxAttempts = 5

// Mutator inspects the current document and returns its replacement.
// Returning write=false aborts the cycle without writing; the current
// document is returned to the caller unchanged.
type Mutator[D any] func(current D) (next D, write bool, err error)

// Update runs one optimistic update cycle against key.
//
// The stored value is parsed as JSON into D; an absent key or corrupt JSON
// both parse to def, never to an error. The conditional write refreshes the
// key's TTL. On a concurrent modification the whole cycle retries, up to
// maxAttempts; exhausting the bound releases the watch and returns
// common.ErrConflict. No update is ever silently dropped: the caller either
// sees its write applied, an abort, or the conflict error.
func Update[D any](ctx context.Context, store kv.Store, key string, def D, ttl time.Duration, fn Mutator[D]) (D, error) {
	var zero D

	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := store.Watch(ctx, key)
		if err != nil {
			return zero, fmt.Errorf("watch %s: %w", key, err)
		}

		current := def
		raw, err := store.Get(ctx, key)
		switch {
		case err == nil:
			if json.Unmarshal(raw, &current) != nil {
				// Corrupt document degrades to the default, same as absent.
				current = def
			}
		case errors.Is(err, common.ErrNotFound):
			// keep default
		default:
			_ = tx.Unwatch(ctx)
			return zero, fmt.Errorf("read %s: %w", key, err)
		}

		next, write, err := fn(current)
		if err != nil {
			_ = tx.Unwatch(ctx)
			return zero, err
		}
		if !write {
			if err := tx.Unwatch(ctx); err != nil {
				return zero, fmt.Errorf("unwatch %s: %w", key, err)
			}
			return current, nil
		}

		encoded, err := json.Marshal(next)
		if err != nil {
			_ = tx.Unwatch(ctx)
			return zero, fmt.Errorf("encode %s: %w", key, err)
		}

		err = tx.Commit(ctx, encoded, ttl)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, common.ErrConflict) {
			// A stale watch on a shared connection poisons the next
			// unrelated transaction, so release before surfacing.
			_ = tx.Unwatch(ctx)
			return zero, fmt.Errorf("commit %s: %w", key, err)
		}
		// Another writer won this cycle; retry from a fresh read.
	}

	return zero, fmt.Errorf("update %s after %d attempts: %w", key, maxAttempts, common.ErrConflict)
}
