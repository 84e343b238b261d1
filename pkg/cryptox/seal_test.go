package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewSealer([]byte("device-secret"))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("access-token-value"), []byte("access_token"))
	require.NoError(t, err)
	require.NotContains(t, sealed, "access-token-value")

	plain, err := s.Open(sealed, []byte("access_token"))
	require.NoError(t, err)
	require.Equal(t, "access-token-value", string(plain))
}

func TestSealerNoncesDiffer(t *testing.T) {
	t.Parallel()

	s, err := NewSealer([]byte("device-secret"))
	require.NoError(t, err)

	a, err := s.Seal([]byte("same"), nil)
	require.NoError(t, err)
	b, err := s.Seal([]byte("same"), nil)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestSealerRejectsTampering(t *testing.T) {
	t.Parallel()

	s, err := NewSealer([]byte("device-secret"))
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("refresh"), []byte("refresh_token"))
	require.NoError(t, err)

	t.Run("wrong additional data", func(t *testing.T) {
		_, err := s.Open(sealed, []byte("access_token"))
		require.Error(t, err)
	})

	t.Run("different key material", func(t *testing.T) {
		other, err := NewSealer([]byte("other-secret"))
		require.NoError(t, err)
		_, err = other.Open(sealed, []byte("refresh_token"))
		require.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := s.Open("AAAA", nil)
		require.ErrorIs(t, err, ErrCiphertextTooShort)
	})
}

func TestNewSealerRequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewSealer(nil)
	require.ErrorIs(t, err, ErrEmptyKeyMaterial)
}
