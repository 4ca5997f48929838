package docstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/race"
	"github.com/slalomtime/racesync/internal/server/kv"
)

// contendingStore injects a competing write between Watch and Commit for the
// first `conflicts` cycles, so retry behavior can be observed deterministically.
type contendingStore struct {
	*kv.MemoryStore
	conflicts int
	cycles    int
}

func (s *contendingStore) Watch(ctx context.Context, key string) (kv.Tx, error) {
	tx, err := s.MemoryStore.Watch(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cycles++
	if s.cycles <= s.conflicts {
		if err := s.MemoryStore.Set(ctx, key, []byte(`{"entries":[],"lastUpdated":99}`), 0); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func TestUpdateWritesThroughContention(t *testing.T) {
	ctx := context.Background()
	store := &contendingStore{MemoryStore: kv.NewMemoryStore(), conflicts: 4}

	doc, err := Update(ctx, store, "race:a", race.DefaultDocument(), time.Hour,
		func(d race.Document) (race.Document, bool, error) {
			d.Entries = append(d.Entries, race.Entry{ID: "e1", Bib: "001", Point: race.PointStart, Run: 1})
			return d, true, nil
		})

	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	// Four conflicted cycles plus the winning fifth.
	assert.Equal(t, 5, store.cycles)
}

func TestUpdateConflictAfterExhaustedRetries(t *testing.T) {
	ctx := context.Background()
	store := &contendingStore{MemoryStore: kv.NewMemoryStore(), conflicts: 100}

	_, err := Update(ctx, store, "race:a", race.DefaultDocument(), 0,
		func(d race.Document) (race.Document, bool, error) {
			return d, true, nil
		})

	require.ErrorIs(t, err, common.ErrConflict)
	assert.Equal(t, 5, store.cycles)
}

func TestUpdateAbortLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	require.NoError(t, store.Set(ctx, "race:a", []byte(`{"entries":[{"id":"e1","bib":"001","point":"S","run":1,"timestamp":5,"deviceId":"d"}],"lastUpdated":5}`), 0))

	doc, err := Update(ctx, store, "race:a", race.DefaultDocument(), 0,
		func(d race.Document) (race.Document, bool, error) {
			return d, false, nil
		})

	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)

	// Watching again and committing must still work: the abort released its watch.
	tx, err := store.Watch(ctx, "race:a")
	require.NoError(t, err)
	assert.NoError(t, tx.Commit(ctx, []byte(`{"entries":[]}`), 0))
}

func TestUpdateCorruptDocumentParsesAsDefault(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()

	require.NoError(t, store.Set(ctx, "race:a", []byte(`{not json`), 0))

	var seen race.Document
	_, err := Update(ctx, store, "race:a", race.DefaultDocument(), 0,
		func(d race.Document) (race.Document, bool, error) {
			seen = d
			return d, false, nil
		})

	require.NoError(t, err)
	assert.Empty(t, seen.Entries)
	assert.Nil(t, seen.LastUpdated)
}

func TestUpdateMutatorErrorPropagates(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	boom := errors.New("boom")

	_, err := Update(ctx, store, "race:a", race.DefaultDocument(), 0,
		func(d race.Document) (race.Document, bool, error) {
			return d, false, boom
		})

	assert.ErrorIs(t, err, boom)
}
