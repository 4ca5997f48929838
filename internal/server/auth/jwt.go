package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/slalomtime/racesync/internal/common"
	"github.com/slalomtime/racesync/internal/race"
)

const (
	// TokenIssuer and TokenType are checked explicitly on every verify;
	// tokens minted for anything else never validate here.
	TokenIssuer = "racesync"
	TokenType   = "race-sync-auth"
)

// Claims carries the fixed token type discriminator and the device's role
// alongside the registered claim set.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"type"`
	Role      string `json:"role,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
}

func validRole(role string) bool {
	switch role {
	case "", race.RoleTimer, race.RoleGateJudge, race.RoleChiefJudge:
		return true
	}
	return false
}

// GenerateToken mints an HS256 bearer token for a device.
func GenerateToken(deviceID, role string, secretKey []byte, validity time.Duration) (string, error) {
	if !validRole(role) {
		return "", common.ErrValidation
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
		TokenType: TokenType,
		Role:      role,
		DeviceID:  deviceID,
	})

	return token.SignedString(secretKey)
}

// VerifyToken parses and validates a bearer token. Expired-but-otherwise-
// valid tokens return common.ErrTokenExpired so callers can prompt for
// re-authentication instead of failing generically; everything else invalid
// returns common.ErrInvalidToken. Algorithm and issuer are pinned — there is
// no "none" path.
func VerifyToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) { return secretKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.TokenType != TokenType {
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}
