package kv

import "strings"

// Key layout of the shared store. Every race owns one primary document key
// plus derived keys sharing its prefix; derived keys carry a suffix so race
// listings can exclude them.
const (
	racePrefix = "race:"

	suffixDevices       = ":devices"
	suffixHighestBib    = ":highestBib"
	suffixTombstone     = ":deleted"
	suffixDeletedFaults = ":deletedFaults"
	suffixAssignments   = ":gateAssignments"

	// PinKey holds the PBKDF2 credential shared by all races.
	PinKey = "auth:pin"
)

// NormalizeRaceID lowercases a race id. Race ids are case-insensitive and
// must always be normalized before any store access.
func NormalizeRaceID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func RaceKey(id string) string          { return racePrefix + NormalizeRaceID(id) }
func DevicesKey(id string) string       { return RaceKey(id) + suffixDevices }
func HighestBibKey(id string) string    { return RaceKey(id) + suffixHighestBib }
func TombstoneKey(id string) string     { return RaceKey(id) + suffixTombstone }
func DeletedFaultsKey(id string) string { return RaceKey(id) + suffixDeletedFaults }
func AssignmentsKey(id string) string   { return RaceKey(id) + suffixAssignments }

// RacePrefix is the scan prefix covering every race-related key.
func RacePrefix() string { return racePrefix }

// IsDerivedKey reports whether key is an auxiliary race key rather than a
// primary race document.
func IsDerivedKey(key string) bool {
	for _, suffix := range []string{
		suffixDevices, suffixHighestBib, suffixTombstone,
		suffixDeletedFaults, suffixAssignments,
	} {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// RaceIDFromKey extracts the race id from a primary race document key.
func RaceIDFromKey(key string) string {
	return strings.TrimPrefix(key, racePrefix)
}
