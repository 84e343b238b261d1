package tokenstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palpalette/client/pkg/domain"
	"github.com/palpalette/client/pkg/slogx"
)

var errBackendDown = errors.New("keychain unavailable")

// faultyBackend wraps a MemoryBackend and fails on demand.
type faultyBackend struct {
	*MemoryBackend
	failGet   bool
	failApply bool
}

func (f *faultyBackend) Get(ctx context.Context, key string) (string, error) {
	if f.failGet {
		return "", errBackendDown
	}
	return f.MemoryBackend.Get(ctx, key)
}

func (f *faultyBackend) Apply(ctx context.Context, b Batch) error {
	if f.failApply {
		return errBackendDown
	}
	return f.MemoryBackend.Apply(ctx, b)
}

func newTestStore(t *testing.T, backend Backend) (*SecureStore, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	return New(backend, WithClock(clock), WithLogger(slogx.Discard())), clock
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "u1",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func TestGetTokensMissReturnsEmpty(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t, NewMemoryBackend())

	tokens := store.GetTokens(context.Background())
	require.Equal(t, domain.Tokens{}, tokens)
	require.Nil(t, store.GetUser(context.Background()))
}

func TestStoreTokensWithExpiresIn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, clock := newTestStore(t, NewMemoryBackend())

	require.NoError(t, store.StoreTokens(ctx, "at", "rt", time.Hour))

	tokens := store.GetTokens(ctx)
	require.Equal(t, "at", tokens.AccessToken)
	require.Equal(t, "rt", tokens.RefreshToken)
	require.Equal(t, clock.Now().Add(time.Hour).UnixMilli(), tokens.ExpiresAt.UnixMilli())
}

func TestStoreTokensDerivesExpiryFromJWT(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	exp := time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC)
	access := signedToken(t, exp)

	require.NoError(t, store.StoreTokens(ctx, access, "rt", 0))
	require.True(t, exp.Equal(store.GetTokens(ctx).ExpiresAt))
}

func TestStoreTokensWithoutExpiryRemovesOldExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	require.NoError(t, store.StoreTokens(ctx, "at", "rt", time.Hour))
	require.NoError(t, store.StoreTokens(ctx, "opaque", "rt2", 0))

	tokens := store.GetTokens(ctx)
	require.Equal(t, "opaque", tokens.AccessToken)
	require.True(t, tokens.ExpiresAt.IsZero())
}

func TestStoreSessionWritesUserAndTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t, NewMemoryBackend())

	user := &domain.User{ID: "u1", Email: "a@b.c", DisplayName: "Ada"}
	require.NoError(t, store.StoreSession(ctx, user, "at", "rt", time.Minute))

	require.Equal(t, user, store.GetUser(ctx))
	require.Equal(t, "at", store.GetTokens(ctx).AccessToken)
}

func TestGetUserCorruptJSON(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemoryBackend()
	require.NoError(t, backend.Apply(ctx, Batch{Set: map[string]string{KeyUser: "{not json"}}))

	store, _ := newTestStore(t, backend)
	require.Nil(t, store.GetUser(ctx))
}

func TestClearTokensRemovesLegacyKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := NewMemoryBackend()

	legacy := map[string]string{}
	for _, key := range LegacyKeys {
		legacy[key] = "old"
	}
	require.NoError(t, backend.Apply(ctx, Batch{Set: legacy}))

	store, _ := newTestStore(t, backend)
	require.NoError(t, store.StoreSession(ctx, &domain.User{ID: "u1", Email: "e", DisplayName: "d"}, "at", "rt", time.Minute))

	require.NoError(t, store.ClearTokens(ctx))
	require.Zero(t, backend.Len())
	require.Equal(t, domain.Tokens{}, store.GetTokens(ctx))
	require.Nil(t, store.GetUser(ctx))
}

func TestReadErrorFallsBackToMemory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &faultyBackend{MemoryBackend: NewMemoryBackend(), failApply: true}
	store, _ := newTestStore(t, backend)

	err := store.StoreTokens(ctx, "at", "rt", time.Minute)
	require.ErrorIs(t, err, errBackendDown)

	// The write landed in the fallback and is served while the backend keeps
	// failing reads.
	backend.failGet = true
	tokens := store.GetTokens(ctx)
	assert.Equal(t, "at", tokens.AccessToken)
	assert.Equal(t, "rt", tokens.RefreshToken)
}

func TestSuccessfulWriteSupersedesFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &faultyBackend{MemoryBackend: NewMemoryBackend(), failApply: true}
	store, _ := newTestStore(t, backend)

	require.Error(t, store.StoreTokens(ctx, "stale", "stale", time.Minute))

	backend.failApply = false
	require.NoError(t, store.StoreTokens(ctx, "fresh", "fresh", time.Minute))
	require.NoError(t, store.ClearTokens(ctx))

	require.Empty(t, store.GetTokens(ctx).AccessToken)
}

func TestClearTokensBackendError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	backend := &faultyBackend{MemoryBackend: NewMemoryBackend()}
	store, _ := newTestStore(t, backend)

	require.NoError(t, store.StoreTokens(ctx, "at", "rt", time.Minute))
	backend.failApply = true
	require.ErrorIs(t, store.ClearTokens(ctx), errBackendDown)
}

func TestNilBackendIsMemoryOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newTestStore(t, nil)

	require.NoError(t, store.StoreTokens(ctx, "at", "rt", time.Minute))
	require.Equal(t, "at", store.GetTokens(ctx).AccessToken)
	require.NoError(t, store.ClearTokens(ctx))
	require.Empty(t, store.GetTokens(ctx).AccessToken)
}
