package sync

import (
	stdsync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/slalomtime/racesync/internal/race"
)

// Time sources recorded on entries and faults.
const (
	TimeSourceGPS   = "gps"
	TimeSourceLocal = "local"
)

// Clock produces event timestamps. When a GPS-derived offset has been
// observed it is applied on top of the system clock and the result is tagged
// accordingly, so downstream consumers can tell corrected from uncorrected
// times.
type Clock struct {
	mu        stdsync.Mutex
	nowFunc   func() time.Time
	offsetMS  int64
	hasOffset bool
}

func NewClock() *Clock {
	return &Clock{nowFunc: time.Now}
}

// SetNowFunc overrides the wall clock in tests.
func (c *Clock) SetNowFunc(f func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nowFunc = f
}

// SetGPSOffset records the difference between GPS time and the local clock,
// in milliseconds.
func (c *Clock) SetGPSOffset(offsetMS int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsetMS = offsetMS
	c.hasOffset = true
}

// ClearGPSOffset reverts to the uncorrected system clock.
func (c *Clock) ClearGPSOffset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offsetMS = 0
	c.hasOffset = false
}

// Now returns the current timestamp in Unix milliseconds together with the
// source it came from.
func (c *Clock) Now() (int64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms := c.nowFunc().UnixMilli()
	if c.hasOffset {
		return ms + c.offsetMS, TimeSourceGPS
	}
	return ms, TimeSourceLocal
}

// NewEntry builds a timing entry stamped by this clock. The bib is
// zero-padded to three digits when shorter.
func (c *Clock) NewEntry(bib, point string, run int, deviceID, deviceName string) race.Entry {
	ts, source := c.Now()
	return race.Entry{
		ID:         uuid.NewString(),
		Bib:        race.NormalizeBib(bib),
		Point:      point,
		Run:        run,
		Timestamp:  ts,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		TimeSource: source,
	}
}

// NewFault builds an unversioned fault stamped by this clock. Version
// history is assigned by the shared store on first push.
func (c *Clock) NewFault(bib string, run, gateNumber int, faultType string, gateRange [2]int, deviceID, deviceName string) race.Fault {
	ts, _ := c.Now()
	return race.Fault{
		ID:         uuid.NewString(),
		Bib:        race.NormalizeBib(bib),
		Run:        run,
		GateNumber: gateNumber,
		FaultType:  faultType,
		Timestamp:  ts,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		GateRange:  gateRange,
	}
}
