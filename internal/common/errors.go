// Package common defines shared constants and sentinel errors used across
// client and server layers of racesync. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Store-level errors.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("update conflict")
	ErrStorage  = errors.New("storage error")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// Validation errors (malformed id, PIN, payload).
	ErrValidation = errors.New("validation error")

	// Transport errors. Both are strictly non-fatal to local state.
	ErrNetwork = errors.New("network error")
	ErrTimeout = errors.New("request timed out")

	// Domain errors.
	ErrRaceDeleted  = errors.New("race deleted")
	ErrSyncDisabled = errors.New("sync disabled")
)
