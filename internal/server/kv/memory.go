package kv

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/slalomtime/racesync/internal/common"
)

// MemoryStore is an in-process Store used for development and tests.
// Per-key version counters back the optimistic transactions; expired keys
// are evicted lazily on access.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]*memEntry
	now  func() time.Time
}

type memEntry struct {
	value     []byte
	hash      map[string][]byte
	version   uint64
	expiresAt time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]*memEntry),
		now:  time.Now,
	}
}

// SetNowFunc overrides the store clock. Tests only.
func (s *MemoryStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// live returns the entry for key, evicting it first if expired.
func (s *MemoryStore) live(key string) (*memEntry, bool) {
	e, ok := s.keys[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.keys, key)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok || e.value == nil {
		return nil, common.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		e = &memEntry{}
		s.keys[key] = e
	}
	e.value = append([]byte(nil), value...)
	e.hash = nil
	e.version++
	e.expiresAt = s.expiry(ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for key := range s.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := s.live(key); ok {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return common.ErrNotFound
	}
	e.expiresAt = s.expiry(ttl)
	return nil
}

func (s *MemoryStore) HSet(_ context.Context, key, field string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		e = &memEntry{hash: make(map[string][]byte)}
		s.keys[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string][]byte)
	}
	e.hash[field] = append([]byte(nil), value...)
	e.version++
	e.expiresAt = s.expiry(ttl)
	return nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]byte)
	e, ok := s.live(key)
	if !ok {
		return out, nil
	}
	for field, value := range e.hash {
		out[field] = append([]byte(nil), value...)
	}
	return out, nil
}

func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil
	}
	for _, field := range fields {
		delete(e.hash, field)
	}
	e.version++
	return nil
}

func (s *MemoryStore) Watch(_ context.Context, key string) (Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var version uint64
	if e, ok := s.live(key); ok {
		version = e.version
	}
	return &memTx{store: s, key: key, version: version}, nil
}

type memTx struct {
	store   *MemoryStore
	key     string
	version uint64
	done    bool
}

func (t *memTx) Commit(_ context.Context, value []byte, ttl time.Duration) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	if t.done {
		return common.ErrConflict
	}
	t.done = true

	var current uint64
	e, ok := t.store.live(t.key)
	if ok {
		current = e.version
	}
	if current != t.version {
		return common.ErrConflict
	}

	if !ok {
		e = &memEntry{}
		t.store.keys[t.key] = e
	}
	e.value = append([]byte(nil), value...)
	e.hash = nil
	e.version++
	e.expiresAt = t.store.expiry(ttl)
	return nil
}

func (t *memTx) Unwatch(_ context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.done = true
	return nil
}
