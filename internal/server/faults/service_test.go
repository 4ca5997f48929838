package faults

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/logging"
	"github.com/slalomtime/racesync/internal/race"
	"github.com/slalomtime/racesync/internal/server/devices"
	"github.com/slalomtime/racesync/internal/server/kv"
	"github.com/slalomtime/racesync/internal/server/races"
)

func newService(t *testing.T) (*Service, *races.Service, *kv.MemoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	log := logging.NewSlogLogger(slog.Default())
	registry := devices.NewRegistry(store, time.Hour, log)
	lifecycle := races.NewService(store, registry, log)
	return NewService(store, lifecycle, time.Hour, log), lifecycle, store
}

func judgeFault(id string, gate int) race.Fault {
	return race.Fault{
		ID:         id,
		Bib:        "015",
		Run:        1,
		GateNumber: gate,
		FaultType:  "touch",
		DeviceID:   "judge-1",
		DeviceName: "Gate Judge 1",
		GateRange:  [2]int{1, 10},
	}
}

func TestPushCreatesVersionHistory(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	stored, err := svc.Push(ctx, "Alpha", judgeFault("f1", 3))
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentVersion)
	require.Len(t, stored.VersionHistory, 1)
	assert.Equal(t, race.ChangeCreated, stored.VersionHistory[0].ChangeType)
}

func TestPushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	first, err := svc.Push(ctx, "alpha", judgeFault("f1", 3))
	require.NoError(t, err)

	// Same fault pushed again: no new version, no duplicate.
	second, err := svc.Push(ctx, "alpha", *first)
	require.NoError(t, err)
	assert.Equal(t, first.CurrentVersion, second.CurrentVersion)
	assert.Len(t, second.VersionHistory, 1)

	res, err := svc.Pull(ctx, "alpha", PullQuery{})
	require.NoError(t, err)
	assert.Len(t, res.Faults, 1)
}

func TestPushHigherVersionReplaces(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	first, err := svc.Push(ctx, "alpha", judgeFault("f1", 3))
	require.NoError(t, err)

	edited := *first
	edited.FaultType = "missed"
	edited.AppendVersion(race.ChangeEdited, "Chief", "chief-1", 2000)

	stored, err := svc.Push(ctx, "alpha", edited)
	require.NoError(t, err)
	assert.Equal(t, "missed", stored.FaultType)
	assert.Equal(t, 2, stored.CurrentVersion)
}

func TestPullFiltersByGateRangeForGateJudges(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	for _, gate := range []int{2, 5, 12} {
		_, err := svc.Push(ctx, "alpha", judgeFault("f-gate-"+string(rune('a'+gate)), gate))
		require.NoError(t, err)
	}

	res, err := svc.Pull(ctx, "alpha", PullQuery{
		DeviceID:  "judge-1",
		Role:      race.RoleGateJudge,
		GateStart: 1,
		GateEnd:   6,
	})
	require.NoError(t, err)
	require.Len(t, res.Faults, 2)
	for _, f := range res.Faults {
		assert.LessOrEqual(t, f.GateNumber, 6)
	}

	// Timers see everything.
	full, err := svc.Pull(ctx, "alpha", PullQuery{Role: race.RoleTimer})
	require.NoError(t, err)
	assert.Len(t, full.Faults, 3)
}

func TestPullPublishesGateAssignment(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.Pull(ctx, "alpha", PullQuery{
		DeviceID:  "judge-1",
		Role:      race.RoleGateJudge,
		GateStart: 1,
		GateEnd:   6,
		GateColor: "red",
		Ready:     true,
	})
	require.NoError(t, err)

	res, err := svc.Pull(ctx, "alpha", PullQuery{Role: race.RoleTimer})
	require.NoError(t, err)
	require.Len(t, res.GateAssignments, 1)
	assert.Equal(t, "judge-1", res.GateAssignments[0].DeviceID)
	assert.Equal(t, 6, res.GateAssignments[0].GateEnd)
	assert.True(t, res.GateAssignments[0].Ready)
}

func TestDeleteRecordsDeletedID(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.Push(ctx, "alpha", judgeFault("f1", 3))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "alpha", "f1", "chief-1", "Chief"))

	res, err := svc.Pull(ctx, "alpha", PullQuery{})
	require.NoError(t, err)
	assert.Empty(t, res.Faults)
	assert.Equal(t, []string{"f1"}, res.DeletedIDs)
}

func TestDeleteMissingFault(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	_, err := svc.Push(ctx, "alpha", judgeFault("f1", 3))
	require.NoError(t, err)

	err = svc.Delete(ctx, "alpha", "other", "chief-1", "Chief")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestOperationsRespectTombstone(t *testing.T) {
	ctx := context.Background()
	svc, lifecycle, _ := newService(t)

	_, err := svc.Push(ctx, "alpha", judgeFault("f1", 3))
	require.NoError(t, err)
	require.NoError(t, lifecycle.Delete(ctx, "alpha"))

	_, err = svc.Pull(ctx, "alpha", PullQuery{})
	assert.ErrorIs(t, err, common.ErrRaceDeleted)

	_, err = svc.Push(ctx, "alpha", judgeFault("f2", 4))
	assert.ErrorIs(t, err, common.ErrRaceDeleted)

	err = svc.Delete(ctx, "alpha", "f1", "chief-1", "Chief")
	assert.ErrorIs(t, err, common.ErrRaceDeleted)
}

func TestPushStripsClientLocalFlags(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	f := judgeFault("f1", 3)
	f.MarkedForDeletion = true
	synced := int64(123)
	f.SyncedAt = &synced

	stored, err := svc.Push(ctx, "alpha", f)
	require.NoError(t, err)
	assert.False(t, stored.MarkedForDeletion)
	assert.Nil(t, stored.SyncedAt)
}
