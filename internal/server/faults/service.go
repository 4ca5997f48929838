// Package faults implements the server half of fault synchronization: pull
// with gate-range filtering, idempotent push, and chief-judge deletion with
// deleted-id propagation.
package faults

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/logging"
	"github.com/slalomtime/racesync/internal/race"
	"github.com/slalomtime/racesync/internal/server/docstore"
	"github.com/slalomtime/racesync/internal/server/kv"
	"github.com/slalomtime/racesync/internal/server/races"
)

// PullQuery carries the requesting device's context. Gate judges announce
// their assigned range so the response can be narrowed to relevant faults
// and other devices can discover the assignment.
type PullQuery struct {
	DeviceID  string
	Role      string
	GateStart int
	GateEnd   int
	GateColor string
	Ready     bool
}

// PullResult is the three independent streams a pull returns; the client
// must apply all of them.
type PullResult struct {
	Faults          []race.Fault          `json:"faults"`
	DeletedIDs      []string              `json:"deletedIds"`
	GateAssignments []race.GateAssignment `json:"gateAssignments"`
}

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

// Pull returns the current fault state for a race. When the query carries a
// gate-judge assignment the fault list is narrowed to that range, and the
// assignment itself is published for other devices to discover.
func (s *Service) Pull(ctx context.Context, raceID string, q PullQuery) (*PullResult, error) {
	id := kv.NormalizeRaceID(raceID)

	if deleted, err := s.lifecycle.IsDeleted(ctx, id); err != nil {
		return nil, err
	} else if deleted {
		return nil, common.ErrRaceDeleted
	}

	if q.Role == race.RoleGateJudge && q.DeviceID != "" && q.GateEnd >= q.GateStart && q.GateEnd > 0 {
		if err := s.publishAssignment(ctx, id, q); err != nil {
			s.log.Warn(ctx, "gate assignment publish failed", "race", id, "error", err)
		}
	}

	doc := s.readDocument(ctx, id)

	faults := doc.Faults
	if q.Role == race.RoleGateJudge && q.GateEnd > 0 {
		faults = filterByGateRange(faults, q.GateStart, q.GateEnd)
	}
	if faults == nil {
		faults = []race.Fault{}
	}

	deletedIDs, err := s.deletedFaultIDs(ctx, id)
	if err != nil {
		return nil, err
	}

	assignments, err := s.gateAssignments(ctx, id)
	if err != nil {
		return nil, err
	}

	return &PullResult{Faults: faults, DeletedIDs: deletedIDs, GateAssignments: assignments}, nil
}

// Push upserts one fault into the race document. Re-pushing the same fault
// version is a no-op, so redundant pushes from flaky connections never
// duplicate version history.
func (s *Service) Push(ctx context.Context, raceID string, fault race.Fault) (*race.Fault, error) {
	id := kv.NormalizeRaceID(raceID)
	if fault.ID == "" {
		return nil, common.ErrValidation
	}

	if deleted, err := s.lifecycle.IsDeleted(ctx, id); err != nil {
		return nil, err
	} else if deleted {
		return nil, common.ErrRaceDeleted
	}

	// A fault arriving without history gets a creation snapshot so the audit
	// trail starts at version 1 regardless of client behavior.
	if fault.CurrentVersion == 0 {
		fault.AppendVersion(race.ChangeCreated, fault.DeviceName, fault.DeviceID, s.now().UnixMilli())
	}
	// Server state never carries client-local flags.
	fault.MarkedForDeletion = false
	fault.SyncedAt = nil

	stored := fault
	_, err := docstore.Update(ctx, s.store, kv.RaceKey(id), race.DefaultDocument(), s.raceTTL,
		func(doc race.Document) (race.Document, bool, error) {
			for i, existing := range doc.Faults {
				if existing.ID != fault.ID {
					continue
				}
				if fault.CurrentVersion <= existing.CurrentVersion {
					stored = existing
					return doc, false, nil
				}
				doc.Faults[i] = fault
				doc.LastUpdated = ptr(s.now().UnixMilli())
				return doc, true, nil
			}
			doc.Faults = append(doc.Faults, fault)
			doc.LastUpdated = ptr(s.now().UnixMilli())
			return doc, true, nil
		})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// Delete removes a fault from the race document and records its id in the
// deleted-ids set so other devices purge their local copies. Role
// authorization (chief judge only) is enforced at the transport layer before
// this is reached.
func (s *Service) Delete(ctx context.Context, raceID, faultID, actorDeviceID, actorName string) error {
	id := kv.NormalizeRaceID(raceID)

	if deleted, err := s.lifecycle.IsDeleted(ctx, id); err != nil {
		return err
	} else if deleted {
		return common.ErrRaceDeleted
	}

	found := false
	_, err := docstore.Update(ctx, s.store, kv.RaceKey(id), race.DefaultDocument(), s.raceTTL,
		func(doc race.Document) (race.Document, bool, error) {
			kept := doc.Faults[:0:0]
			for _, f := range doc.Faults {
				if f.ID == faultID {
					found = true
					continue
				}
				kept = append(kept, f)
			}
			if !found {
				return doc, false, nil
			}
			doc.Faults = kept
			doc.LastUpdated = ptr(s.now().UnixMilli())
			return doc, true, nil
		})
	if err != nil {
		return err
	}
	if !found {
		return common.ErrNotFound
	}

	record, err := json.Marshal(map[string]any{
		"deletedAt": s.now().UnixMilli(),
		"deletedBy": actorName,
		"deviceId":  actorDeviceID,
	})
	if err != nil {
		return err
	}
	return s.store.HSet(ctx, kv.DeletedFaultsKey(id), faultID, record, s.raceTTL)
}

func (s *Service) readDocument(ctx context.Context, id string) race.Document {
	doc := race.DefaultDocument()
	raw, err := s.store.Get(ctx, kv.RaceKey(id))
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return race.DefaultDocument()
	}
	return doc
}

func (s *Service) deletedFaultIDs(ctx context.Context, id string) ([]string, error) {
	all, err := s.store.HGetAll(ctx, kv.DeletedFaultsKey(id))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(all))
	for faultID := range all {
		ids = append(ids, faultID)
	}
	return ids, nil
}

func (s *Service) gateAssignments(ctx context.Context, id string) ([]race.GateAssignment, error) {
	all, err := s.store.HGetAll(ctx, kv.AssignmentsKey(id))
	if err != nil {
		return nil, err
	}
	assignments := make([]race.GateAssignment, 0, len(all))
	for _, raw := range all {
		var a race.GateAssignment
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

func (s *Service) publishAssignment(ctx context.Context, id string, q PullQuery) error {
	encoded, err := json.Marshal(race.GateAssignment{
		DeviceID:  q.DeviceID,
		GateStart: q.GateStart,
		GateEnd:   q.GateEnd,
		GateColor: q.GateColor,
		Ready:     q.Ready,
		UpdatedAt: s.now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return s.store.HSet(ctx, kv.AssignmentsKey(id), q.DeviceID, encoded, s.raceTTL)
}

func filterByGateRange(faults []race.Fault, start, end int) []race.Fault {
	out := faults[:0:0]
	for _, f := range faults {
		if f.GateNumber >= start && f.GateNumber <= end {
			out = append(out, f)
		}
	}
	return out
}

func ptr(v int64) *int64 { return &v }

// ParseGateParam converts a gate query parameter, tolerating absence.
func ParseGateParam(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
