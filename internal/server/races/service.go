// Package races implements race lifecycle operations on the shared store:
// tombstoned deletion, tombstone consultation, and conflict-free listing.
package races

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/logging"
	"github.com/slalomtime/racesync/internal/race"
	"github.com/slalomtime/racesync/internal/server/devices"
	"github.com/slalomtime/racesync/internal/server/kv"
)

// TombstoneTTL bounds how long a deletion marker outlives the race document.
// Within this window every device polling the race observes the deletion;
// afterwards the marker expires on its own.
const TombstoneTTL = 300 * time.Second

type Service struct {
	store    kv.Store
	registry *devices.Registry
	log      logging.Logger
	now      func() time.Time
}

func NewService(store kv.Store, registry *devices.Registry, log logging.Logger) *Service {
	return &Service{store: store, registry: registry, log: log, now: time.Now}
}

// SetNowFunc overrides the service clock. Tests only.
func (s *Service) SetNowFunc(now func() time.Time) { s.now = now }

// IsDeleted reports whether a live tombstone exists for the race. A document
// key that still exists is irrelevant while its tombstone is live: consumers
// must call this before trusting any other state for the id.
func (s *Service) IsDeleted(ctx context.Context, raceID string) (bool, error) {
	_, err := s.store.Get(ctx, kv.TombstoneKey(raceID))
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete tombstones a race and removes its document plus every derived key
// in one batch. Deleting an absent race returns common.ErrNotFound.
func (s *Service) Delete(ctx context.Context, raceID string) error {
	id := kv.NormalizeRaceID(raceID)
	if id == "" {
		return common.ErrValidation
	}

	if _, err := s.store.Get(ctx, kv.RaceKey(id)); err != nil {
		return err
	}

	tombstone, err := json.Marshal(race.Tombstone{
		DeletedAt: s.now().UnixMilli(),
		Message:   "race deleted",
	})
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, kv.TombstoneKey(id), tombstone, TombstoneTTL); err != nil {
		return err
	}

	return s.store.Delete(ctx,
		kv.RaceKey(id),
		kv.DevicesKey(id),
		kv.HighestBibKey(id),
		kv.DeletedFaultsKey(id),
		kv.AssignmentsKey(id),
	)
}

// List scans every primary race document and returns one summary per race,
// sorted by lastUpdated descending with never-updated races last. Derived
// keys are excluded by suffix; a document that fails to parse skips that
// race, never the whole listing.
func (s *Service) List(ctx context.Context) ([]race.Summary, error) {
	keys, err := s.store.Keys(ctx, kv.RacePrefix())
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	summaries := make([]race.Summary, 0, len(keys))

	for _, key := range keys {
		if kv.IsDerivedKey(key) {
			continue
		}
		id := kv.NormalizeRaceID(kv.RaceIDFromKey(key))
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if deleted, err := s.IsDeleted(ctx, id); err != nil || deleted {
			continue
		}

		raw, err := s.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var doc race.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			s.log.Warn(ctx, "skipping unparsable race document", "race", id, "error", err)
			continue
		}

		deviceCount, err := s.registry.CountActive(ctx, id)
		if err != nil {
			deviceCount = 0
		}

		summaries = append(summaries, race.Summary{
			ID:          id,
			EntryCount:  len(doc.Entries),
			DeviceCount: deviceCount,
			LastUpdated: doc.LastUpdated,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		a, b := summaries[i].LastUpdated, summaries[j].LastUpdated
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})

	return summaries, nil
}
