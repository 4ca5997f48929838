// Package api is the HTTP client the device uses to reach the shared store's
// server. Every call carries a hard timeout, and transport failures map onto
// the shared sentinel errors so callers can branch on kind: a timeout, a
// connectivity failure, and an application-level rejection are three
// different things, and none of them may ever block local recording.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/race"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration

	mu    sync.Mutex
	token string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// SetToken installs the bearer token used on subsequent requests. Safe to
// call while other goroutines are issuing requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the currently installed bearer token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s %s", common.ErrTimeout, method, path)
		}
		return fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return statusError(res.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decoding response: %v", common.ErrNetwork, err)
		}
	}
	return nil
}

func statusError(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return common.ErrUnauthorized
	case http.StatusForbidden:
		return common.ErrForbidden
	case http.StatusNotFound:
		return common.ErrNotFound
	case http.StatusGone:
		return common.ErrRaceDeleted
	case http.StatusConflict:
		return common.ErrConflict
	case http.StatusBadRequest:
		return common.ErrValidation
	default:
		return fmt.Errorf("%w: unexpected status %d", common.ErrNetwork, code)
	}
}

// SubmitPin exchanges a PIN for a bearer token and installs it.
func (c *Client) SubmitPin(ctx context.Context, pin, deviceID, role string) error {
	var res struct {
		Token string `json:"token"`
	}
	err := c.do(ctx, http.MethodPost, "/api/auth/pin", map[string]string{
		"pin": pin, "deviceId": deviceID, "role": role,
	}, &res)
	if err != nil {
		return err
	}
	c.SetToken(res.Token)
	return nil
}

// PullQuery mirrors the fault pull endpoint's query parameters.
type PullQuery struct {
	DeviceID  string
	Role      string
	GateStart int
	GateEnd   int
	GateColor string
	Ready     bool
}

// PullResponse carries the three streams a pull returns. DeletedIDs uses a
// permissive decoder: non-string members from older peers are dropped, not
// fatal.
type PullResponse struct {
	Faults          []race.Fault          `json:"faults"`
	DeletedIDs      StringList            `json:"deletedIds"`
	GateAssignments []race.GateAssignment `json:"gateAssignments"`
}

// StringList is a []string that tolerates mixed-type JSON arrays by keeping
// only the string members.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// PullFaults fetches the current fault state for a race.
func (c *Client) PullFaults(ctx context.Context, raceID string, q PullQuery) (*PullResponse, error) {
	params := url.Values{}
	if q.DeviceID != "" {
		params.Set("deviceId", q.DeviceID)
	}
	if q.Role != "" {
		params.Set("role", q.Role)
	}
	if q.GateEnd > 0 {
		params.Set("gateStart", strconv.Itoa(q.GateStart))
		params.Set("gateEnd", strconv.Itoa(q.GateEnd))
		params.Set("ready", strconv.FormatBool(q.Ready))
		if q.GateColor != "" {
			params.Set("gateColor", q.GateColor)
		}
	}

	path := "/api/races/" + url.PathEscape(raceID) + "/faults"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var res PullResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PushFault publishes one fault and returns the stored server copy.
func (c *Client) PushFault(ctx context.Context, raceID string, fault race.Fault) (*race.Fault, error) {
	var stored race.Fault
	path := "/api/races/" + url.PathEscape(raceID) + "/faults"
	if err := c.do(ctx, http.MethodPost, path, fault, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// DeleteFault removes a fault; the server requires a chief-judge token.
func (c *Client) DeleteFault(ctx context.Context, raceID, faultID, actorDeviceID, actorName string) error {
	params := url.Values{}
	if actorDeviceID != "" {
		params.Set("deviceId", actorDeviceID)
	}
	if actorName != "" {
		params.Set("deviceName", actorName)
	}
	path := "/api/races/" + url.PathEscape(raceID) + "/faults/" + url.PathEscape(faultID)
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// AddEntry publishes a timing entry. The returned flag reports a duplicate
// rejection (same bib/point/run already recorded by some device).
func (c *Client) AddEntry(ctx context.Context, raceID string, entry race.Entry) (bool, error) {
	var res struct {
		Duplicate bool `json:"duplicate"`
	}
	path := "/api/races/" + url.PathEscape(raceID) + "/entries"
	if err := c.do(ctx, http.MethodPost, path, entry, &res); err != nil {
		return false, err
	}
	return res.Duplicate, nil
}

// HighestBib returns the highest bib number recorded for a race, 0 when no
// entry exists yet.
func (c *Client) HighestBib(ctx context.Context, raceID string) (int, error) {
	var res struct {
		HighestBib int `json:"highestBib"`
	}
	path := "/api/races/" + url.PathEscape(raceID) + "/highestBib"
	if err := c.do(ctx, http.MethodGet, path, nil, &res); err != nil {
		return 0, err
	}
	return res.HighestBib, nil
}

// Heartbeat refreshes this device's membership and returns the active count.
func (c *Client) Heartbeat(ctx context.Context, raceID, deviceID, deviceName string) (int, error) {
	var res struct {
		ActiveDevices int `json:"activeDevices"`
	}
	path := "/api/races/" + url.PathEscape(raceID) + "/heartbeat"
	err := c.do(ctx, http.MethodPost, path, map[string]string{
		"deviceId": deviceID, "deviceName": deviceName,
	}, &res)
	if err != nil {
		return 0, err
	}
	return res.ActiveDevices, nil
}

// ListRaces returns the server's race listing.
func (c *Client) ListRaces(ctx context.Context) ([]race.Summary, error) {
	var res struct {
		Races []race.Summary `json:"races"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/races", nil, &res); err != nil {
		return nil, err
	}
	return res.Races, nil
}

// DeleteRace tombstones and removes a race.
func (c *Client) DeleteRace(ctx context.Context, raceID string) error {
	return c.do(ctx, http.MethodDelete, "/api/races/"+url.PathEscape(raceID), nil, nil)
}
