package devices

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slalomtime/racesync/internal/logging"
	"github.com/slalomtime/racesync/internal/server/kv"
)

func newRegistry(t *testing.T) (*Registry, *kv.MemoryStore, *time.Time) {
	t.Helper()
	store := kv.NewMemoryStore()
	log := logging.NewSlogLogger(slog.Default())
	r := NewRegistry(store, time.Hour, log)

	now := time.Unix(10_000, 0)
	r.SetNowFunc(func() time.Time { return now })
	return r, store, &now
}

func TestHeartbeatEmptyDeviceIDIsNoop(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRegistry(t)

	require.NoError(t, r.Heartbeat(ctx, "alpha", "", "Ghost"))

	all, err := store.HGetAll(ctx, kv.DevicesKey("alpha"))
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCountActiveFreshAndStale(t *testing.T) {
	ctx := context.Background()
	r, store, now := newRegistry(t)

	require.NoError(t, r.Heartbeat(ctx, "alpha", "dev-old", "Old Timer"))

	*now = now.Add(40 * time.Second)
	require.NoError(t, r.Heartbeat(ctx, "alpha", "dev-new", "Fresh Judge"))

	count, err := r.CountActive(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// The stale record was pruned from the shared hash as a side effect.
	all, err := store.HGetAll(ctx, kv.DevicesKey("alpha"))
	require.NoError(t, err)
	require.Len(t, all, 1)
	_, ok := all["dev-new"]
	assert.True(t, ok)
}

func TestCountActiveBoundaryIsStale(t *testing.T) {
	ctx := context.Background()
	r, _, now := newRegistry(t)

	require.NoError(t, r.Heartbeat(ctx, "alpha", "dev-1", "Edge"))

	// Exactly at the freshness window: excluded.
	*now = now.Add(FreshnessWindow)
	count, err := r.CountActive(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCountActiveCorruptRecordIsPruned(t *testing.T) {
	ctx := context.Background()
	r, store, _ := newRegistry(t)

	require.NoError(t, store.HSet(ctx, kv.DevicesKey("alpha"), "dev-bad", []byte(`{broken`), 0))
	require.NoError(t, r.Heartbeat(ctx, "alpha", "dev-ok", "Fine"))

	count, err := r.CountActive(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	all, err := store.HGetAll(ctx, kv.DevicesKey("alpha"))
	require.NoError(t, err)
	_, ok := all["dev-bad"]
	assert.False(t, ok)
}
