// Package config handles configuration for the device client, including
// defaults, JSON overlay, and command-line flags.
package config

import (
	"time"

	"github.com/google/uuid"
)

// Config holds runtime settings for the racesync device client.
//
// Fields:
//   - ServerURL: base URL of the racesync server.
//   - DeviceID: stable identity of this device; generated when empty.
//   - DeviceName: human-readable name shown to other devices.
//   - Role: one of timer, gateJudge, chiefJudge.
//   - LocalDSN: sqlite DSN for local persistence.
//   - PollInterval: normal fault-pull cadence.
//   - FastPollInterval: cadence right after a local mutation.
//   - HeartbeatInterval: device-registry heartbeat cadence.
//   - RequestTimeout: hard timeout on every HTTP call.
//   - FlushDelay: write-back delay for the local persistence cache.
//   - SyncEnabled: master switch; local recording works regardless.
type Config struct {
	ServerURL         string
	DeviceID          string
	DeviceName        string
	Role              string
	LocalDSN          string
	PollInterval      time.Duration
	FastPollInterval  time.Duration
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
	FlushDelay        time.Duration
	SyncEnabled       bool
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://localhost:8080"
	c.DeviceID = ""
	c.DeviceName = ""
	c.Role = "timer"
	c.LocalDSN = "racesync.db"
	c.PollInterval = 15 * time.Second
	c.FastPollInterval = 3 * time.Second
	c.HeartbeatInterval = 10 * time.Second
	c.RequestTimeout = 10 * time.Second
	c.FlushDelay = 500 * time.Millisecond
	c.SyncEnabled = true
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags. A device
// id is generated when none was configured.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJSON(cfg)
	parseFlags(cfg)
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	return cfg
}
