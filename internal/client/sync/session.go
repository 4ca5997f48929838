// Package sync runs the client half of the fault synchronization loop: a
// polling pull that merges cloud faults into local state, best-effort pushes
// of locally authored faults, and discovery of other gate judges' assigned
// ranges. All state lives on an explicit Session owned by the caller, so one
// process can hold sessions for several races without cross-talk.
package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/slalomtime/racesync/internal/client/api"
	"github.com/slalomtime/racesync/internal/client/persistence"
	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/logging"
	"github.com/slalomtime/racesync/internal/race"
)

// ConnectedPruneWindow governs how long a device stays in the session's
// connectedDevices view after it was last seen. It is deliberately longer
// than the server's 30s heartbeat freshness window: liveness counting and
// display pruning tolerate lag differently.
const ConnectedPruneWindow = 120 * time.Second

// State of the sync loop, visible to the UI.
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateMerged   State = "merged"
	StateError    State = "error"
)

// Identity describes this device within a race.
type Identity struct {
	DeviceID   string
	DeviceName string
	Role       string
}

// Assignment is this device's own gate range, published on pull when the
// role is gate judge.
type Assignment struct {
	GateStart int
	GateEnd   int
	GateColor string
	Ready     bool
}

// Session holds all mutable sync state for one race. Callbacks are optional;
// a nil callback is skipped.
type Session struct {
	api    *api.Client
	store  *persistence.Cache
	clock  *Clock
	logger logging.Logger

	mu          stdsync.Mutex
	raceID      string
	identity    Identity
	assignment  *Assignment
	enabled     bool
	state       State
	assignments []race.GateAssignment
	connected   map[string]int64

	// OnFaultsMerged fires after a pull changed the local fault set.
	OnFaultsMerged func(faults []race.Fault)
	// OnSyncError fires on any non-fatal sync failure, e.g. for a toast.
	OnSyncError func(err error)
	// ResetFastPoll fires after a successful push so the poll loop can
	// shorten its next interval.
	ResetFastPoll func()
}

func NewSession(client *api.Client, store *persistence.Cache, clock *Clock, logger logging.Logger) *Session {
	return &Session{
		api:       client,
		store:     store,
		clock:     clock,
		logger:    logger,
		enabled:   true,
		state:     StateIdle,
		connected: make(map[string]int64),
	}
}

// SetRace switches the session to a race. An empty id detaches it.
func (s *Session) SetRace(raceID string, identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raceID = raceID
	s.identity = identity
}

// RaceID returns the race the session is attached to, or "".
func (s *Session) RaceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.raceID
}

// SetAssignment records this device's own gate range for publication on the
// next pull. Nil clears it.
func (s *Session) SetAssignment(a *Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignment = a
}

// SetEnabled toggles synchronization. While disabled every sync call is a
// no-op; local recording is unaffected.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// State returns the sync loop's last observed state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) snapshot() (raceID string, id Identity, assignment *Assignment, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled || s.raceID == "" {
		return "", Identity{}, nil, false
	}
	return s.raceID, s.identity, s.assignment, true
}

// FetchCloudFaults pulls the race's fault state and applies all three
// streams: faults are merged (idempotently), deleted ids purged, and the
// gate-assignment cache refreshed. Disabled sync or a missing race id is a
// no-op, as is a 401 while the credential is not yet established. Other
// failures are reported through OnSyncError and returned, but callers must
// treat them as non-fatal to local operation.
func (s *Session) FetchCloudFaults(ctx context.Context) error {
	raceID, id, assignment, ok := s.snapshot()
	if !ok {
		return nil
	}

	s.setState(StateFetching)

	q := api.PullQuery{DeviceID: id.DeviceID, Role: id.Role}
	if id.Role == race.RoleGateJudge && assignment != nil {
		q.GateStart = assignment.GateStart
		q.GateEnd = assignment.GateEnd
		q.GateColor = assignment.GateColor
		q.Ready = assignment.Ready
	}

	res, err := s.api.PullFaults(ctx, raceID, q)
	if err != nil {
		if errors.Is(err, common.ErrUnauthorized) {
			s.setState(StateIdle)
			return nil
		}
		s.setState(StateError)
		s.reportError(ctx, "fault pull failed", err)
		return err
	}

	changed, err := s.applyPull(ctx, res)
	if err != nil {
		s.setState(StateError)
		s.reportError(ctx, "applying pulled faults failed", err)
		return err
	}

	s.mu.Lock()
	s.assignments = res.GateAssignments
	cb := s.OnFaultsMerged
	s.mu.Unlock()

	// Every device id surfacing in the pull is evidence the peer is around.
	now, _ := s.clock.Now()
	for _, a := range res.GateAssignments {
		s.MarkDeviceSeen(a.DeviceID, now)
	}
	for _, f := range res.Faults {
		s.MarkDeviceSeen(f.DeviceID, now)
	}

	// The merged state sticks until the next cycle starts, so observers
	// get to see it.
	if changed {
		s.setState(StateMerged)
		if cb != nil {
			var faults []race.Fault
			if _, err := s.store.Get(ctx, persistence.SliceFaults, &faults); err == nil {
				cb(faults)
			}
		}
	} else {
		s.setState(StateIdle)
	}
	return nil
}

func (s *Session) applyPull(ctx context.Context, res *api.PullResponse) (bool, error) {
	var local []race.Fault
	if _, err := s.store.Get(ctx, persistence.SliceFaults, &local); err != nil {
		return false, err
	}

	merged, changed := race.MergeFaults(local, res.Faults)
	purged, purgedAny := race.PurgeFaults(merged, res.DeletedIDs)
	if !changed && !purgedAny {
		return false, nil
	}
	if err := s.store.Put(persistence.SliceFaults, purged); err != nil {
		return false, err
	}
	return true, nil
}

// SendFaultToCloud publishes one fault. On success the local copy is marked
// synced and the fast-poll reset callback fires. Returns false when sync is
// disabled, no race is set, or the push failed for any reason; the caller
// retries on the next push cycle.
func (s *Session) SendFaultToCloud(ctx context.Context, fault race.Fault) bool {
	raceID, _, _, ok := s.snapshot()
	if !ok {
		return false
	}

	stored, err := s.api.PushFault(ctx, raceID, fault)
	if err != nil {
		s.reportError(ctx, "fault push failed", err, "faultId", fault.ID)
		return false
	}

	now, _ := s.clock.Now()
	if err := s.markSynced(ctx, stored, now); err != nil {
		s.reportError(ctx, "marking fault synced failed", err, "faultId", fault.ID)
	}

	s.mu.Lock()
	reset := s.ResetFastPoll
	s.mu.Unlock()
	if reset != nil {
		reset()
	}
	return true
}

func (s *Session) markSynced(ctx context.Context, stored *race.Fault, at int64) error {
	var local []race.Fault
	if _, err := s.store.Get(ctx, persistence.SliceFaults, &local); err != nil {
		return err
	}
	for i := range local {
		if local[i].ID == stored.ID {
			updated := *stored
			updated.SyncedAt = &at
			local[i] = updated
			return s.store.Put(persistence.SliceFaults, local)
		}
	}
	return nil
}

// DeleteFaultFromCloud asks the shared store to remove a fault. The server
// enforces the chief-judge role; an insufficient role surfaces here as a
// failed delete, not a crash.
func (s *Session) DeleteFaultFromCloud(ctx context.Context, faultID string) bool {
	raceID, id, _, ok := s.snapshot()
	if !ok {
		return false
	}
	if err := s.api.DeleteFault(ctx, raceID, faultID, id.DeviceID, id.DeviceName); err != nil {
		s.reportError(ctx, "fault delete failed", err, "faultId", faultID)
		return false
	}
	return true
}

// PushLocalFaults publishes every local fault this device authored that has
// not been synced yet. Faults recorded by other devices are never pushed.
// Returns the number of successful pushes.
func (s *Session) PushLocalFaults(ctx context.Context) int {
	_, id, _, ok := s.snapshot()
	if !ok {
		return 0
	}

	var local []race.Fault
	if _, err := s.store.Get(ctx, persistence.SliceFaults, &local); err != nil {
		s.reportError(ctx, "loading local faults failed", err)
		return 0
	}

	pushed := 0
	for _, f := range local {
		if f.DeviceID != id.DeviceID || f.SyncedAt != nil {
			continue
		}
		if s.SendFaultToCloud(ctx, f) {
			pushed++
		}
	}
	return pushed
}

// OtherGateAssignments returns the last-fetched assignments of every device
// except this one.
func (s *Session) OtherGateAssignments() []race.GateAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]race.GateAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		if a.DeviceID == s.identity.DeviceID {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Heartbeat reports this device alive and refreshes the connected-devices
// view with the active count returned by the shared store.
func (s *Session) Heartbeat(ctx context.Context) (int, error) {
	raceID, id, _, ok := s.snapshot()
	if !ok {
		return 0, common.ErrSyncDisabled
	}
	count, err := s.api.Heartbeat(ctx, raceID, id.DeviceID, id.DeviceName)
	if err != nil {
		s.reportError(ctx, "heartbeat failed", err)
		return 0, err
	}
	now, _ := s.clock.Now()
	s.MarkDeviceSeen(id.DeviceID, now)
	return count, nil
}

// MarkDeviceSeen records when a device was last observed.
func (s *Session) MarkDeviceSeen(deviceID string, at int64) {
	if deviceID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected[deviceID] = at
}

// ConnectedDevices returns the ids of devices seen within the prune window,
// dropping older records as a side effect.
func (s *Session) ConnectedDevices() []string {
	now, _ := s.clock.Now()
	cutoff := now - ConnectedPruneWindow.Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.connected))
	for id, seen := range s.connected {
		if seen <= cutoff {
			delete(s.connected, id)
			continue
		}
		out = append(out, id)
	}
	return out
}

// Cleanup resets all per-race state so the session can be reused for another
// race.
func (s *Session) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raceID = ""
	s.identity = Identity{}
	s.assignment = nil
	s.assignments = nil
	s.connected = make(map[string]int64)
	s.state = StateIdle
	s.OnFaultsMerged = nil
	s.OnSyncError = nil
	s.ResetFastPoll = nil
}

func (s *Session) reportError(ctx context.Context, msg string, err error, args ...any) {
	s.logger.Warn(ctx, msg, append([]any{"error", err}, args...)...)
	s.mu.Lock()
	cb := s.OnSyncError
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}
