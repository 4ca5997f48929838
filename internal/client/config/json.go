package config

import (
	"encoding/json"
	"os"

	"github.com/slalomtime/racesync/internal/flagx"
	"github.com/slalomtime/racesync/internal/timex"
)

// jsonConfig is the JSON-file DTO. Interval fields use timex.Duration so the
// file may carry either "15s" strings or integer nanoseconds.
type jsonConfig struct {
	ServerURL         string         `json:"server_url"`
	DeviceID          string         `json:"device_id"`
	DeviceName        string         `json:"device_name"`
	Role              string         `json:"role"`
	LocalDSN          string         `json:"local_dsn"`
	PollInterval      timex.Duration `json:"poll_interval"`
	FastPollInterval  timex.Duration `json:"fast_poll_interval"`
	HeartbeatInterval timex.Duration `json:"heartbeat_interval"`
	RequestTimeout    timex.Duration `json:"request_timeout"`
	FlushDelay        timex.Duration `json:"flush_delay"`
	SyncEnabled       *bool          `json:"sync_enabled"`
}

// parseJSON overlays values from the JSON file named by -c/-config, when
// given. An unreadable or malformed file is a startup error, not something
// to limp past.
func parseJSON(config *Config) {
	path := flagx.JSONConfigFlags()
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &jsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.ServerURL != "" {
		config.ServerURL = c.ServerURL
	}
	if c.DeviceID != "" {
		config.DeviceID = c.DeviceID
	}
	if c.DeviceName != "" {
		config.DeviceName = c.DeviceName
	}
	if c.Role != "" {
		config.Role = c.Role
	}
	if c.LocalDSN != "" {
		config.LocalDSN = c.LocalDSN
	}
	if c.PollInterval.Duration != 0 {
		config.PollInterval = c.PollInterval.Duration
	}
	if c.FastPollInterval.Duration != 0 {
		config.FastPollInterval = c.FastPollInterval.Duration
	}
	if c.HeartbeatInterval.Duration != 0 {
		config.HeartbeatInterval = c.HeartbeatInterval.Duration
	}
	if c.RequestTimeout.Duration != 0 {
		config.RequestTimeout = c.RequestTimeout.Duration
	}
	if c.FlushDelay.Duration != 0 {
		config.FlushDelay = c.FlushDelay.Duration
	}
	if c.SyncEnabled != nil {
		config.SyncEnabled = *c.SyncEnabled
	}
}
