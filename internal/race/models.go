// Package race holds the domain types shared between the racesync server and
// client: the race document, timing entries, penalty faults with their
// version history, and device membership records. Field names follow the
// wire format, with timestamps as Unix milliseconds.
package race

// Timing point an entry was recorded at.
const (
	PointStart  = "S"
	PointFinish = "F"
)

// Device roles carried in the auth token's role claim.
const (
	RoleTimer      = "timer"
	RoleGateJudge  = "gateJudge"
	RoleChiefJudge = "chiefJudge"
)

// Document is the shared race record stored under a single key per race id.
// It is owned collectively by all devices; every mutation goes through a
// compare-and-swap cycle, never a blind write.
type Document struct {
	Entries     []Entry `json:"entries"`
	Faults      []Fault `json:"faults,omitempty"`
	LastUpdated *int64  `json:"lastUpdated"`
}

// DefaultDocument is the value a race document parses to when the key is
// absent or holds corrupt JSON.
func DefaultDocument() Document {
	return Document{Entries: []Entry{}, LastUpdated: nil}
}

// Entry is a single timing punch. Entries are immutable once created.
// Logical identity for deduplication is the (bib, point, run) triple, not the
// synthetic ID: the same physical event recorded on two devices produces two
// IDs but must count once.
type Entry struct {
	ID           string   `json:"id"`
	Bib          string   `json:"bib"`
	Point        string   `json:"point"`
	Run          int      `json:"run"`
	Timestamp    int64    `json:"timestamp"`
	Status       string   `json:"status,omitempty"`
	DeviceID     string   `json:"deviceId"`
	DeviceName   string   `json:"deviceName,omitempty"`
	GPSCoords    *LatLong `json:"gpsCoords,omitempty"`
	GPSTimestamp *int64   `json:"gpsTimestamp,omitempty"`
	TimeSource   string   `json:"timeSource,omitempty"`
}

type LatLong struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Fault is a penalty recorded by a gate judge. The struct itself is mutable
// through an append-only version history; CurrentVersion increases with each
// edit. MarkedForDeletion is a local soft-delete flag so an in-flight delete
// can be shown before the shared store confirms it.
type Fault struct {
	ID                string         `json:"id"`
	Bib               string         `json:"bib"`
	Run               int            `json:"run"`
	GateNumber        int            `json:"gateNumber"`
	FaultType         string         `json:"faultType"`
	Timestamp         int64          `json:"timestamp"`
	DeviceID          string         `json:"deviceId"`
	DeviceName        string         `json:"deviceName,omitempty"`
	GateRange         [2]int         `json:"gateRange"`
	CurrentVersion    int            `json:"currentVersion"`
	VersionHistory    []FaultVersion `json:"versionHistory"`
	MarkedForDeletion bool           `json:"markedForDeletion,omitempty"`
	SyncedAt          *int64         `json:"syncedAt,omitempty"`
}

// FaultVersion is one snapshot in a fault's audit history.
type FaultVersion struct {
	Version          int    `json:"version"`
	Timestamp        int64  `json:"timestamp"`
	EditedBy         string `json:"editedBy"`
	EditedByDeviceID string `json:"editedByDeviceId"`
	ChangeType       string `json:"changeType"`
	Data             Fault  `json:"data"`
}

// Fault change types recorded in the version history.
const (
	ChangeCreated = "created"
	ChangeEdited  = "edited"
	ChangeDeleted = "deleted"
)

// Tombstone marks a deleted race. Its presence under the derived
// "<race>:deleted" key overrides whatever the document key still contains.
type Tombstone struct {
	DeletedAt int64  `json:"deletedAt"`
	Message   string `json:"message,omitempty"`
}

// DeviceInfo is one device's heartbeat record inside a per-race hash.
type DeviceInfo struct {
	Name     string `json:"name"`
	LastSeen int64  `json:"lastSeen"`
}

// GateAssignment is a gate judge's announced gate range. Assignments are
// discovered, never authoritative; they only help devices avoid picking
// overlapping manual ranges.
type GateAssignment struct {
	DeviceID  string `json:"deviceId"`
	GateStart int    `json:"gateStart"`
	GateEnd   int    `json:"gateEnd"`
	GateColor string `json:"gateColor,omitempty"`
	Ready     bool   `json:"ready,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// Summary is one row of the race listing.
type Summary struct {
	ID          string `json:"id"`
	EntryCount  int    `json:"entryCount"`
	DeviceCount int    `json:"deviceCount"`
	LastUpdated *int64 `json:"lastUpdated"`
}
