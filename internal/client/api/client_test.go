package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/race"
)

func TestPullFaultsSendsGateQuery(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"role":      r.URL.Query().Get("role"),
			"gateStart": r.URL.Query().Get("gateStart"),
			"gateEnd":   r.URL.Query().Get("gateEnd"),
			"ready":     r.URL.Query().Get("ready"),
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"faults":          []race.Fault{{ID: "f1"}},
			"deletedIds":      []string{"gone"},
			"gateAssignments": []race.GateAssignment{},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	res, err := c.PullFaults(context.Background(), "alpha", PullQuery{
		DeviceID: "j1", Role: race.RoleGateJudge, GateStart: 1, GateEnd: 6, Ready: true,
	})
	require.NoError(t, err)
	assert.Equal(t, race.RoleGateJudge, gotQuery["role"])
	assert.Equal(t, "1", gotQuery["gateStart"])
	assert.Equal(t, "6", gotQuery["gateEnd"])
	assert.Equal(t, "true", gotQuery["ready"])
	require.Len(t, res.Faults, 1)
	assert.Equal(t, []string{"gone"}, []string(res.DeletedIDs))
}

func TestStringListDropsNonStrings(t *testing.T) {
	var l StringList
	require.NoError(t, json.Unmarshal([]byte(`["a", 1, null, "b", {"x":1}]`), &l))
	assert.Equal(t, StringList{"a", "b"}, l)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, common.ErrUnauthorized},
		{http.StatusForbidden, common.ErrForbidden},
		{http.StatusNotFound, common.ErrNotFound},
		{http.StatusGone, common.ErrRaceDeleted},
		{http.StatusConflict, common.ErrConflict},
		{http.StatusBadRequest, common.ErrValidation},
		{http.StatusInternalServerError, common.ErrNetwork},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := NewClient(srv.URL, time.Second)
		_, err := c.PullFaults(context.Background(), "alpha", PullQuery{})
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
		srv.Close()
	}
}

func TestTimeoutIsDistinctFromNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 20*time.Millisecond)
	_, err := c.PullFaults(context.Background(), "alpha", PullQuery{})
	require.ErrorIs(t, err, common.ErrTimeout)
	assert.NotErrorIs(t, err, common.ErrNetwork)
}

func TestConnectionRefusedIsNetworkError(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 500*time.Millisecond)
	_, err := c.PullFaults(context.Background(), "alpha", PullQuery{})
	assert.ErrorIs(t, err, common.ErrNetwork)
}

func TestSubmitPinInstallsToken(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/pin":
			_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
		default:
			sawAuth = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(map[string]any{"races": []race.Summary{}})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	require.NoError(t, c.SubmitPin(context.Background(), "1234", "dev-1", race.RoleTimer))
	assert.Equal(t, "tok-123", c.Token())

	_, err := c.ListRaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", sawAuth)
}

func TestTokenSafeUnderConcurrentRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"races": []race.Summary{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if n%2 == 0 {
					c.SetToken("tok-" + strconv.Itoa(j))
					_ = c.Token()
				} else {
					_, _ = c.ListRaces(context.Background())
				}
			}
		}(i)
	}
	wg.Wait()
}
