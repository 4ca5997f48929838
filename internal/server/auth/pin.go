// Package auth gates mutations on the shared store: an optional PIN-derived
// credential, bearer tokens carrying a device role, and role checks for
// destructive fault operations.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/slalomtime/racesync/internal/common"
)

const (
	pinSaltBytes  = 16
	pinIterations = 10_000
	pinKeyBytes   = 32
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

// ValidatePin checks the 4-digit numeric PIN format.
func ValidatePin(pin string) error {
	if !pinPattern.MatchString(pin) {
		return fmt.Errorf("%w: PIN must be 4 digits", common.ErrValidation)
	}
	return nil
}

// PinHash is a stored PIN credential in one of two formats. The two-variant
// type makes the legacy migration path explicit instead of sniffing string
// shapes at every call site.
type PinHash interface {
	// Verify reports whether pin matches, in constant time.
	Verify(pin string) bool
	// String renders the storable form.
	String() string
}

// Pbkdf2Hash is the current format: "salt:hash", both hex, salted
// PBKDF2-SHA256.
type Pbkdf2Hash struct {
	Salt []byte
	Hash []byte
}

func (h Pbkdf2Hash) Verify(pin string) bool {
	candidate := pbkdf2.Key([]byte(pin), h.Salt, pinIterations, pinKeyBytes, sha256.New)
	return subtle.ConstantTimeCompare(candidate, h.Hash) == 1
}

func (h Pbkdf2Hash) String() string {
	return hex.EncodeToString(h.Salt) + ":" + hex.EncodeToString(h.Hash)
}

// LegacySha256Hash is the pre-migration format: a bare unsalted SHA-256 hex
// digest. Verification still accepts it so existing deployments keep working
// until the PIN is next re-established.
type LegacySha256Hash struct {
	Hash []byte
}

func (h LegacySha256Hash) Verify(pin string) bool {
	candidate := sha256.Sum256([]byte(pin))
	return subtle.ConstantTimeCompare(candidate[:], h.Hash) == 1
}

func (h LegacySha256Hash) String() string {
	return hex.EncodeToString(h.Hash)
}

// HashPin derives a fresh salted credential for pin.
func HashPin(pin string) (Pbkdf2Hash, error) {
	saltHex, err := common.RandHexString(pinSaltBytes)
	if err != nil {
		return Pbkdf2Hash{}, err
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return Pbkdf2Hash{}, err
	}
	hash := pbkdf2.Key([]byte(pin), salt, pinIterations, pinKeyBytes, sha256.New)
	return Pbkdf2Hash{Salt: salt, Hash: hash}, nil
}

// ParsePinHash decodes a stored credential. The colon separator is the only
// discriminator between the two formats.
func ParsePinHash(stored string) (PinHash, error) {
	if !strings.Contains(stored, ":") {
		hash, err := hex.DecodeString(stored)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed legacy pin hash", common.ErrValidation)
		}
		return LegacySha256Hash{Hash: hash}, nil
	}

	parts := strings.SplitN(stored, ":", 2)
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed pin salt", common.ErrValidation)
	}
	hash, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed pin hash", common.ErrValidation)
	}
	return Pbkdf2Hash{Salt: salt, Hash: hash}, nil
}

// VerifyPin checks pin against a stored credential in either format.
func VerifyPin(pin, stored string) bool {
	parsed, err := ParsePinHash(stored)
	if err != nil {
		return false
	}
	return parsed.Verify(pin)
}
