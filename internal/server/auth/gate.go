package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/server/kv"
)

// Auth methods reported in a Decision.
const (
	MethodNone   = "none"
	MethodBearer = "bearer"
)

// Decision is a successful authentication outcome. Claims is nil when the
// request passed because no credential is configured at all (bootstrap mode).
type Decision struct {
	Method string
	Claims *Claims
}

// Gate makes the three-tier auth decision and manages the PIN credential.
type Gate struct {
	store         kv.Store
	secretKey     []byte
	tokenValidity time.Duration
}

func NewGate(store kv.Store, secretKey []byte, tokenValidity time.Duration) *Gate {
	return &Gate{store: store, secretKey: secretKey, tokenValidity: tokenValidity}
}

// PinConfigured reports whether a PIN credential has been established.
func (g *Gate) PinConfigured(ctx context.Context) (bool, error) {
	_, err := g.store.Get(ctx, kv.PinKey)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Authorize makes the three-tier decision for a request:
//
//  1. No Authorization header and no PIN configured: allowed, method "none".
//     This is the bootstrap/read-only mode before any credential exists.
//  2. No Authorization header but a PIN exists: rejected; the caller must
//     authenticate.
//  3. Header present: it must be a well-formed bearer token that verifies
//     against the signing secret. Expired tokens surface ErrTokenExpired,
//     distinct from generically invalid ones.
func (g *Gate) Authorize(ctx context.Context, authHeader string) (*Decision, error) {
	if authHeader == "" {
		configured, err := g.PinConfigured(ctx)
		if err != nil {
			return nil, err
		}
		if configured {
			return nil, fmt.Errorf("%w: authentication required", common.ErrUnauthorized)
		}
		return &Decision{Method: MethodNone}, nil
	}

	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return nil, fmt.Errorf("%w: malformed authorization header", common.ErrUnauthorized)
	}

	claims, err := VerifyToken(token, g.secretKey)
	if err != nil {
		return nil, err
	}
	return &Decision{Method: MethodBearer, Claims: claims}, nil
}

// RequireRole checks role-based authorization on an already-authenticated
// decision; token validity is never re-litigated here. In bootstrap mode
// (method "none") there is no credential system to hold a role against, so
// the check degrades to allow.
func (d *Decision) RequireRole(role string) error {
	if d.Method == MethodNone {
		return nil
	}
	if d.Claims == nil || d.Claims.Role != role {
		return fmt.Errorf("%w: requires %s role", common.ErrForbidden, role)
	}
	return nil
}

// SubmitPin exchanges a PIN for a bearer token. The first PIN ever submitted
// establishes the credential atomically: two devices racing to set different
// PINs cannot both win. Later submissions verify against the stored hash,
// transparently accepting the legacy unsalted format.
func (g *Gate) SubmitPin(ctx context.Context, pin, deviceID, role string) (string, error) {
	if err := ValidatePin(pin); err != nil {
		return "", err
	}

	tx, err := g.store.Watch(ctx, kv.PinKey)
	if err != nil {
		return "", err
	}

	stored, err := g.store.Get(ctx, kv.PinKey)
	switch {
	case errors.Is(err, common.ErrNotFound):
		hash, err := HashPin(pin)
		if err != nil {
			_ = tx.Unwatch(ctx)
			return "", err
		}
		if err := tx.Commit(ctx, []byte(hash.String()), 0); err != nil {
			// Lost the establishment race; the other device's PIN stands.
			return "", fmt.Errorf("%w: PIN was just established elsewhere", common.ErrUnauthorized)
		}
	case err != nil:
		_ = tx.Unwatch(ctx)
		return "", err
	default:
		if err := tx.Unwatch(ctx); err != nil {
			return "", err
		}
		if !VerifyPin(pin, string(stored)) {
			return "", fmt.Errorf("%w: wrong PIN", common.ErrUnauthorized)
		}
	}

	return GenerateToken(deviceID, role, g.secretKey, g.tokenValidity)
}
