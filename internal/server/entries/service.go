// Package entries implements server-side creation of timing entries with
// triple-based duplicate rejection.
package entries

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/logging"
	"github.com/slalomtime/racesync/internal/race"
	"github.com/slalomtime/racesync/internal/server/docstore"
	"github.com/slalomtime/racesync/internal/server/kv"
	"github.com/slalomtime/racesync/internal/server/races"
)

type Service struct {
	store     kv.Store
	lifecycle *races.Service
	raceTTL   time.Duration
	log       logging.Logger
	now       func() time.Time
}

func NewService(store kv.Store, lifecycle *races.Service, raceTTL time.Duration, log logging.Logger) *Service {
	return &Service{store: store, lifecycle: lifecycle, raceTTL: raceTTL, log: log, now: time.Now}
}

// SetNowFunc overrides the service clock. Tests only.
func (s *Service) SetNowFunc(now func() time.Time) { s.now = now }

// Add appends an entry to the race document unless an entry with the same
// (bib, point, run) triple already exists. The returned flag reports whether
// the entry was rejected as a duplicate; either way the caller receives the
// current document state.
func (s *Service) Add(ctx context.Context, raceID string, entry race.Entry) (race.Document, bool, error) {
	id := kv.NormalizeRaceID(raceID)
	if entry.ID == "" || entry.Point == "" {
		return race.Document{}, false, common.ErrValidation
	}

	if deleted, err := s.lifecycle.IsDeleted(ctx, id); err != nil {
		return race.Document{}, false, err
	} else if deleted {
		return race.Document{}, false, common.ErrRaceDeleted
	}

	entry.Bib = race.NormalizeBib(entry.Bib)

	duplicate := false
	doc, err := docstore.Update(ctx, s.store, kv.RaceKey(id), race.DefaultDocument(), s.raceTTL,
		func(doc race.Document) (race.Document, bool, error) {
			if race.IsDuplicateEntry(entry, doc.Entries) {
				duplicate = true
				return doc, false, nil
			}
			doc.Entries = append(doc.Entries, entry)
			updated := s.now().UnixMilli()
			doc.LastUpdated = &updated
			return doc, true, nil
		})
	if err != nil {
		return race.Document{}, false, err
	}

	if !duplicate {
		s.bumpHighestBib(ctx, id, entry.Bib)
	}

	return doc, duplicate, nil
}

// bumpHighestBib raises the race's highest-seen bib counter. Best effort: a
// conflict or storage failure here never fails the entry write.
func (s *Service) bumpHighestBib(ctx context.Context, id, bib string) {
	n, err := strconv.Atoi(bib)
	if err != nil {
		return
	}
	_, err = docstore.Update(ctx, s.store, kv.HighestBibKey(id), 0, s.raceTTL,
		func(highest int) (int, bool, error) {
			if n <= highest {
				return highest, false, nil
			}
			return n, true, nil
		})
	if err != nil {
		s.log.Warn(ctx, "highest bib update failed", "race", id, "error", err)
	}
}

// HighestBib returns the highest bib recorded so far, zero when unset.
func (s *Service) HighestBib(ctx context.Context, raceID string) (int, error) {
	raw, err := s.store.Get(ctx, kv.HighestBibKey(raceID))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, nil
	}
	return n, nil
}
