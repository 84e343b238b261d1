package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned when a token carries no exp claim.
var ErrNoExpiry = errors.New("jwtx: token has no exp claim")

// Claims are the access-token claims the client cares about. The backend
// signs them; the client never verifies signatures and only reads them to
// schedule work (expiry bookkeeping, status display).
type Claims struct {
	jwt.RegisteredClaims

	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// ParseUnverified decodes the claims of a JWT without checking its signature.
// Opaque (non-JWT) tokens return an error.
func ParseUnverified(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("jwtx: parse token: %w", err)
	}
	return &claims, nil
}

// ExpiresAt returns the exp claim of token.
func ExpiresAt(token string) (time.Time, error) {
	claims, err := ParseUnverified(token)
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// Remaining reports how long token stays valid at now. Negative values mean
// the token already expired.
func Remaining(token string, now time.Time) (time.Duration, error) {
	exp, err := ExpiresAt(token)
	if err != nil {
		return 0, err
	}
	return exp.Sub(now), nil
}
