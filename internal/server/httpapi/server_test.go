package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slalomtime/racesync/internal/logging"
	"github.com/slalomtime/racesync/internal/race"
	"github.com/slalomtime/racesync/internal/server/auth"
	"github.com/slalomtime/racesync/internal/server/devices"
	"github.com/slalomtime/racesync/internal/server/entries"
	"github.com/slalomtime/racesync/internal/server/faults"
	"github.com/slalomtime/racesync/internal/server/kv"
	"github.com/slalomtime/racesync/internal/server/races"
)

func newTestServer(t *testing.T) (*Server, *auth.Gate) {
	t.Helper()

	store := kv.NewMemoryStore()
	slogger := slog.Default()
	log := logging.NewSlogLogger(slogger)

	gate := auth.NewGate(store, []byte("test-secret"), time.Hour)
	registry := devices.NewRegistry(store, time.Hour, log)
	raceSvc := races.NewService(store, registry, log)
	faultSvc := faults.NewService(store, raceSvc, time.Hour, log)
	entrySvc := entries.NewService(store, raceSvc, time.Hour, log)

	return NewServer(":0", slogger, log, gate, registry, raceSvc, faultSvc, entrySvc), gate
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestPinFlowAndAuthTiers(t *testing.T) {
	s, _ := newTestServer(t)

	// Bootstrap mode: no PIN configured, unauthenticated requests pass.
	rec := doJSON(t, s, http.MethodGet, "/api/races", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// First PIN submission establishes the credential and returns a token.
	rec = doJSON(t, s, http.MethodPost, "/api/auth/pin", "", map[string]string{
		"pin": "1234", "deviceId": "dev-1", "role": race.RoleTimer,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var pinRes pinResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pinRes))
	require.NotEmpty(t, pinRes.Token)

	// With a PIN configured, bare requests are rejected.
	rec = doJSON(t, s, http.MethodGet, "/api/races", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// And token-bearing requests pass.
	rec = doJSON(t, s, http.MethodGet, "/api/races", pinRes.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Wrong PIN is a 401.
	rec = doJSON(t, s, http.MethodPost, "/api/auth/pin", "", map[string]string{
		"pin": "0000", "deviceId": "dev-2", "role": race.RoleTimer,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFaultDeleteRoleGating(t *testing.T) {
	s, gate := newTestServer(t)
	ctx := context.Background()

	chief, err := gate.SubmitPin(ctx, "1234", "chief-1", race.RoleChiefJudge)
	require.NoError(t, err)
	timer, err := gate.SubmitPin(ctx, "1234", "timer-1", race.RoleTimer)
	require.NoError(t, err)
	judge, err := gate.SubmitPin(ctx, "1234", "judge-1", race.RoleGateJudge)
	require.NoError(t, err)

	fault := race.Fault{ID: "f1", Bib: "001", Run: 1, GateNumber: 3, FaultType: "touch", DeviceID: "judge-1"}
	rec := doJSON(t, s, http.MethodPost, "/api/races/alpha/faults", judge, fault)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, tok := range []string{timer, judge} {
		rec = doJSON(t, s, http.MethodDelete, "/api/races/alpha/faults/f1", tok, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/races/alpha/faults/f1?deviceId=chief-1&deviceName=Chief", chief, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Deleting again: gone.
	rec = doJSON(t, s, http.MethodDelete, "/api/races/alpha/faults/f1", chief, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntryAddAndDuplicate(t *testing.T) {
	s, _ := newTestServer(t)

	entry := race.Entry{ID: "e1", Bib: "042", Point: race.PointStart, Run: 1, Timestamp: 1000, DeviceID: "t1"}
	rec := doJSON(t, s, http.MethodPost, "/api/races/alpha/entries", "", entry)
	assert.Equal(t, http.StatusCreated, rec.Code)

	dup := race.Entry{ID: "e2", Bib: "042", Point: race.PointStart, Run: 1, Timestamp: 2000, DeviceID: "t2"}
	rec = doJSON(t, s, http.MethodPost, "/api/races/alpha/entries", "", dup)
	require.Equal(t, http.StatusOK, rec.Code)

	var res addEntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Duplicate)
	assert.Len(t, res.Document.Entries, 1)
}

func TestHighestBibReflectsEntries(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/api/races/alpha/highestBib", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var res map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 0, res["highestBib"])

	entry := race.Entry{ID: "e1", Bib: "017", Point: race.PointFinish, Run: 1, Timestamp: 1000, DeviceID: "t1"}
	rec = doJSON(t, s, http.MethodPost, "/api/races/alpha/entries", "", entry)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/races/alpha/highestBib", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 17, res["highestBib"])
}

func TestPullReturnsThreeStreams(t *testing.T) {
	s, _ := newTestServer(t)

	fault := race.Fault{ID: "f1", Bib: "001", Run: 1, GateNumber: 3, FaultType: "touch", DeviceID: "judge-1"}
	rec := doJSON(t, s, http.MethodPost, "/api/races/alpha/faults", "", fault)
	require.Equal(t, http.StatusOK, rec.Code)

	path := fmt.Sprintf("/api/races/alpha/faults?deviceId=judge-2&role=%s&gateStart=1&gateEnd=6&ready=true", race.RoleGateJudge)
	rec = doJSON(t, s, http.MethodGet, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res faults.PullResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Len(t, res.Faults, 1)
	assert.Empty(t, res.DeletedIDs)
	require.Len(t, res.GateAssignments, 1)
	assert.Equal(t, "judge-2", res.GateAssignments[0].DeviceID)
}

func TestDeletedRaceIsGone(t *testing.T) {
	s, _ := newTestServer(t)

	entry := race.Entry{ID: "e1", Bib: "001", Point: race.PointStart, Run: 1, DeviceID: "t1"}
	rec := doJSON(t, s, http.MethodPost, "/api/races/alpha/entries", "", entry)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/api/races/alpha", "", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/races/alpha/faults", "", nil)
	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestHeartbeatCountsActiveDevices(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, http.MethodPost, "/api/races/alpha/heartbeat", "", heartbeatRequest{
		DeviceID: "dev-1", DeviceName: "Start Timer",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var res map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res["activeDevices"])
}
