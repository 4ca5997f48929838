package config

import (
	"encoding/json"
	"os"

	"github.com/slalomtime/racesync/internal/flagx"
	"github.com/slalomtime/racesync/internal/timex"
)

// jsonConfig is the JSON-file DTO. Interval fields use timex.Duration so the
// file may carry either "30m" strings or integer nanoseconds.
type jsonConfig struct {
	EndpointAddr          string         `json:"endpoint_addr"`
	DatabaseDSN           string         `json:"database_dsn"`
	SecretKey             string         `json:"secret_key"`
	TokenValidityDuration timex.Duration `json:"token_validity_duration"`
	RaceTTL               timex.Duration `json:"race_ttl"`
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

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.TokenValidityDuration.Duration != 0 {
		config.TokenValidityDuration = c.TokenValidityDuration.Duration
	}
	if c.RaceTTL.Duration != 0 {
		config.RaceTTL = c.RaceTTL.Duration
	}
}
