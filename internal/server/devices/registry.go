// Package devices tracks which devices are currently working a race, using
// only periodic heartbeats written into a per-race hash.
package devices

import (
	"context"
	"encoding/json"
	"time"

	"github.com/slalomtime/racesync/internal/logging"
	"github.com/slalomtime/racesync/internal/race"
	"github.com/slalomtime/racesync/internal/server/kv"
)

// FreshnessWindow is how recent a heartbeat must be to count a device as
// active. A heartbeat exactly this old is already stale (strict comparison).
//
// Deliberately different from the client-side connected-device pruning window
// (see sync.ConnectedPruneWindow): this one measures liveness, that one
// tolerates display lag.
const FreshnessWindow = 30 * time.Second

type Registry struct {
	store   kv.Store
	raceTTL time.Duration
	log     logging.Logger
	now     func() time.Time
}

func NewRegistry(store kv.Store, raceTTL time.Duration, log logging.Logger) *Registry {
	return &Registry{store: store, raceTTL: raceTTL, log: log, now: time.Now}
}

// SetNowFunc overrides the registry clock. Tests only.
func (r *Registry) SetNowFunc(now func() time.Time) { r.now = now }

// Heartbeat records {name, lastSeen: now} for the device and refreshes the
// hash TTL. An empty device id is silently ignored rather than treated as an
// error: devices may heartbeat before their identity is assigned.
func (r *Registry) Heartbeat(ctx context.Context, raceID, deviceID, deviceName string) error {
	if deviceID == "" {
		return nil
	}

	info := race.DeviceInfo{Name: deviceName, LastSeen: r.now().UnixMilli()}
	encoded, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.store.HSet(ctx, kv.DevicesKey(raceID), deviceID, encoded, r.raceTTL)
}

// CountActive returns how many devices heartbeated within the freshness
// window. Stale entries, and entries whose JSON no longer parses, are deleted
// from the shared hash as a side effect: pruning piggybacks on every count
// rather than running as a separate sweep.
func (r *Registry) CountActive(ctx context.Context, raceID string) (int, error) {
	key := kv.DevicesKey(raceID)

	all, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return 0, err
	}

	cutoff := r.now().Add(-FreshnessWindow).UnixMilli()

	fresh := 0
	var stale []string
	for deviceID, raw := range all {
		var info race.DeviceInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			// Corrupt records are stale by definition.
			stale = append(stale, deviceID)
			continue
		}
		if info.LastSeen > cutoff {
			fresh++
		} else {
			stale = append(stale, deviceID)
		}
	}

	if len(stale) > 0 {
		if err := r.store.HDel(ctx, key, stale...); err != nil {
			r.log.Warn(ctx, "stale device prune failed", "race", raceID, "error", err)
		}
	}

	return fresh, nil
}
