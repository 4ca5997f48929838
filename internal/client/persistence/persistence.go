// Package persistence is the device-local half of the synchronization loop:
// a write-back cache over named state slices. Each slice (entries, faults,
// settings, session) serializes independently, so toggling a setting never
// rewrites the potentially large entries array. Mutations mark a slice dirty
// and schedule one coalesced deferred flush; only dirty slices hit storage.
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/slalomtime/racesync/internal/common"
)

// Well-known slice names.
const (
	SliceEntries  = "entries"
	SliceFaults   = "faults"
	SliceSettings = "settings"
	SliceSession  = "session"
)

// Backend stores serialized slices. Load returns common.ErrNotFound for a
// slice never saved.
type Backend interface {
	Load(ctx context.Context, slice string) ([]byte, error)
	Save(ctx context.Context, slice string, data []byte) error
}

// Cache is the dirty-slice write-back cache. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	backend    Backend
	flushDelay time.Duration

	data    map[string]json.RawMessage
	dirty   map[string]struct{}
	timer   *time.Timer
	lastErr error
}

// NewCache creates a cache flushing dirty slices flushDelay after the first
// mutation of a burst.
func NewCache(backend Backend, flushDelay time.Duration) *Cache {
	return &Cache{
		backend:    backend,
		flushDelay: flushDelay,
		data:       make(map[string]json.RawMessage),
		dirty:      make(map[string]struct{}),
	}
}

// Get loads a slice into v, falling back to the backend on a cold cache.
// A slice that was never saved leaves v untouched and returns false.
func (c *Cache) Get(ctx context.Context, slice string, v any) (bool, error) {
	c.mu.Lock()
	raw, ok := c.data[slice]
	c.mu.Unlock()

	if !ok {
		loaded, err := c.backend.Load(ctx, slice)
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		raw = loaded
		c.mu.Lock()
		c.data[slice] = raw
		c.mu.Unlock()
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("%w: slice %s: %v", common.ErrStorage, slice, err)
	}
	return true, nil
}

// Put replaces a slice's content, marks it dirty, and schedules a deferred
// flush. Several Puts within one flush window coalesce into a single write.
func (c *Cache) Put(slice string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: slice %s: %v", common.ErrStorage, slice, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[slice] = raw
	c.dirty[slice] = struct{}{}
	c.scheduleFlushLocked()
	return nil
}

func (c *Cache) scheduleFlushLocked() {
	if c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.flushDelay, func() {
		if err := c.Flush(context.Background()); err != nil {
			c.mu.Lock()
			// keep the first failure until a caller observes it
			if c.lastErr == nil {
				c.lastErr = err
			}
			c.mu.Unlock()
		}
	})
}

// Flush writes every dirty slice now. The first error encountered is
// returned (and any earlier deferred-flush failure takes precedence);
// successfully written slices are unmarked even when a later one fails.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	pending := make(map[string]json.RawMessage, len(c.dirty))
	for slice := range c.dirty {
		pending[slice] = c.data[slice]
	}
	firstErr := c.lastErr
	c.lastErr = nil
	c.mu.Unlock()

	for slice, raw := range pending {
		if err := c.backend.Save(ctx, slice, raw); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: flushing slice %s: %v", common.ErrStorage, slice, err)
			}
			continue
		}
		c.mu.Lock()
		delete(c.dirty, slice)
		c.mu.Unlock()
	}

	return firstErr
}

// Dirty reports whether a slice has unflushed changes.
func (c *Cache) Dirty(slice string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.dirty[slice]
	return ok
}
