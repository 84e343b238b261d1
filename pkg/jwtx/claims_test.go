package jwtx

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestExpiresAt(t *testing.T) {
	t.Parallel()

	exp := time.Unix(1800000000, 0).UTC()
	token := signed(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Email: "ana@example.com",
	})

	got, err := ExpiresAt(token)
	require.NoError(t, err)
	require.True(t, exp.Equal(got))

	claims, err := ParseUnverified(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "ana@example.com", claims.Email)
}

func TestExpiresAtWithoutExp(t *testing.T) {
	t.Parallel()

	token := signed(t, jwt.RegisteredClaims{Subject: "user-1"})
	_, err := ExpiresAt(token)
	require.ErrorIs(t, err, ErrNoExpiry)
}

func TestOpaqueToken(t *testing.T) {
	t.Parallel()

	_, err := ExpiresAt("opaque-refresh-token")
	require.Error(t, err)
}

func TestRemaining(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	token := signed(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(90 * time.Second))})

	left, err := Remaining(token, now)
	require.NoError(t, err)
	require.Equal(t, 90*time.Second, left)
}
