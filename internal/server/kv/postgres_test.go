package kv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slalomtime/racesync/internal/common"
)

// Integration tests; run with TEST_POSTGRES_DSN pointing at a scratch
// database.
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	s, err := NewPostgresStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresCommitTakesOverExpiredRow(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	key := "race:expired-takeover"
	t.Cleanup(func() { _ = s.Delete(ctx, key) })

	require.NoError(t, s.Set(ctx, key, []byte("old"), 10*time.Millisecond))
	time.Sleep(50 * time.Millisecond)

	_, err := s.Get(ctx, key)
	require.ErrorIs(t, err, common.ErrNotFound)

	// The dead physical row must not wedge re-creation.
	tx, err := s.Watch(ctx, key)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx, []byte("fresh"), time.Hour))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
}

func TestPostgresCommitStillLosesToLiveRow(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t)
	key := "race:live-conflict"
	t.Cleanup(func() { _ = s.Delete(ctx, key) })

	tx, err := s.Watch(ctx, key)
	require.NoError(t, err)

	// A concurrent writer creates the key after the watch.
	require.NoError(t, s.Set(ctx, key, []byte("winner"), time.Hour))

	require.ErrorIs(t, tx.Commit(ctx, []byte("loser"), time.Hour), common.ErrConflict)

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("winner"), got)
}
