package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/palpalette/client/pkg/domain"
	"github.com/palpalette/client/pkg/jwtx"
	"github.com/palpalette/client/pkg/slogx"
)

// Storage keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyExpiresAt    = "token_expires_at"
	KeyUser         = "user"
)

// LegacyKeys were written by older client releases. ClearTokens removes them
// so a downgrade-then-upgrade cannot resurrect a stale session.
var LegacyKeys = []string{
	"auth_token",
	"authToken",
	"refreshToken",
	"auth_refresh_token",
	"user_data",
	"userData",
	"token_expiry",
}

// SecureStore persists the session on a platform Backend with an in-memory
// fallback. Reads never fail: a miss yields empty values and a backend error
// is logged and served from the fallback. Writes that fail on the backend are
// mirrored to the fallback and the backend error is returned.
type SecureStore struct {
	primary  Backend
	fallback *MemoryBackend
	clock    clockwork.Clock
	logger   *slog.Logger
}

type Option func(*SecureStore)

func WithLogger(l *slog.Logger) Option {
	return func(s *SecureStore) { s.logger = l }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *SecureStore) { s.clock = c }
}

// New builds a SecureStore on primary. A nil primary keeps everything in
// memory.
func New(primary Backend, opts ...Option) *SecureStore {
	s := &SecureStore{
		primary:  primary,
		fallback: NewMemoryBackend(),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.primary == nil {
		s.primary = s.fallback
	}
	s.logger = slogx.OrDefault(s.logger).With("component", "tokenstore")
	return s
}

// StoreTokens persists the token pair. A positive expiresIn sets the expiry
// relative to now; otherwise the expiry comes from the access token's exp
// claim, and is removed when the token carries none.
func (s *SecureStore) StoreTokens(ctx context.Context, accessToken, refreshToken string, expiresIn time.Duration) error {
	return s.apply(ctx, s.tokenBatch(accessToken, refreshToken, expiresIn))
}

// StoreUser persists the user profile as JSON.
func (s *SecureStore) StoreUser(ctx context.Context, user *domain.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("tokenstore: encode user: %w", err)
	}
	return s.apply(ctx, Batch{Set: map[string]string{KeyUser: string(data)}})
}

// StoreSession writes tokens and user in a single batch so the pair is never
// half-persisted.
func (s *SecureStore) StoreSession(ctx context.Context, user *domain.User, accessToken, refreshToken string, expiresIn time.Duration) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("tokenstore: encode user: %w", err)
	}

	b := s.tokenBatch(accessToken, refreshToken, expiresIn)
	b.Set[KeyUser] = string(data)
	return s.apply(ctx, b)
}

// GetTokens returns the stored tokens. Absent values are empty strings and a
// zero ExpiresAt.
func (s *SecureStore) GetTokens(ctx context.Context) domain.Tokens {
	tokens := domain.Tokens{
		AccessToken:  s.get(ctx, KeyAccessToken),
		RefreshToken: s.get(ctx, KeyRefreshToken),
	}

	if raw := s.get(ctx, KeyExpiresAt); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.logger.Warn("ignoring malformed token expiry", "value", raw)
		} else {
			tokens.ExpiresAt = time.UnixMilli(ms)
		}
	}
	return tokens
}

// GetUser returns the stored user, or nil when absent or unreadable.
func (s *SecureStore) GetUser(ctx context.Context) *domain.User {
	raw := s.get(ctx, KeyUser)
	if raw == "" {
		return nil
	}

	var user domain.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		s.logger.Warn("stored user is not valid json", "error", err)
		return nil
	}
	return &user
}

// ClearTokens removes tokens, expiry, user and every legacy key from both the
// backend and the fallback.
func (s *SecureStore) ClearTokens(ctx context.Context) error {
	keys := append([]string{KeyAccessToken, KeyRefreshToken, KeyExpiresAt, KeyUser}, LegacyKeys...)
	b := Batch{Delete: keys}

	_ = s.fallback.Apply(ctx, b)
	if s.primary == s.fallback {
		return nil
	}
	if err := s.primary.Apply(ctx, b); err != nil {
		s.logger.Error("clear tokens failed", "error", err)
		return fmt.Errorf("tokenstore: clear: %w", err)
	}
	return nil
}

// Close closes the backend.
func (s *SecureStore) Close() error {
	return s.primary.Close()
}

func (s *SecureStore) tokenBatch(accessToken, refreshToken string, expiresIn time.Duration) Batch {
	b := Batch{Set: map[string]string{
		KeyAccessToken:  accessToken,
		KeyRefreshToken: refreshToken,
	}}

	var expiresAt time.Time
	if expiresIn > 0 {
		expiresAt = s.clock.Now().Add(expiresIn)
	} else if exp, err := jwtx.ExpiresAt(accessToken); err == nil {
		expiresAt = exp
	}

	if expiresAt.IsZero() {
		b.Delete = []string{KeyExpiresAt}
	} else {
		b.Set[KeyExpiresAt] = strconv.FormatInt(expiresAt.UnixMilli(), 10)
	}
	return b
}

func (s *SecureStore) get(ctx context.Context, key string) string {
	v, err := s.primary.Get(ctx, key)
	switch {
	case err == nil:
		return v
	case errors.Is(err, ErrNotFound):
	default:
		s.logger.Warn("backend read failed, using memory fallback", "key", key, "error", err)
	}

	if s.primary == s.fallback {
		return ""
	}
	v, err = s.fallback.Get(ctx, key)
	if err != nil {
		return ""
	}
	return v
}

func (s *SecureStore) apply(ctx context.Context, b Batch) error {
	if s.primary == s.fallback {
		return s.fallback.Apply(ctx, b)
	}

	if err := s.primary.Apply(ctx, b); err != nil {
		s.logger.Error("backend write failed, keeping values in memory", "error", err)
		_ = s.fallback.Apply(ctx, b)
		return fmt.Errorf("tokenstore: write: %w", err)
	}

	// The backend is authoritative again; drop anything the fallback still
	// holds for these keys.
	stale := Batch{Delete: b.Delete}
	for key := range b.Set {
		stale.Delete = append(stale.Delete, key)
	}
	_ = s.fallback.Apply(ctx, stale)
	return nil
}
