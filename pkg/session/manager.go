package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/palpalette/client/pkg/domain"
	"github.com/palpalette/client/pkg/interceptor"
	"github.com/palpalette/client/pkg/palapi"
	"github.com/palpalette/client/pkg/promx"
	"github.com/palpalette/client/pkg/slogx"
)

// logoutTimeout bounds the backend call and storage clear of a logout that
// runs after the caller's context has ended.
const logoutTimeout = 5 * time.Second

var (
	ErrNoRefreshToken = errors.New("session: no refresh token stored")
	ErrIncompleteUser = errors.New("session: incomplete user in response")
	ErrRefreshFailed  = errors.New("session: refresh failed")
)

// API is the subset of the backend the manager calls.
type API interface {
	AuthLogin(ctx context.Context, req palapi.LoginRequest) (*palapi.AuthResponse, error)
	AuthRegister(ctx context.Context, req palapi.RegisterRequest) (*palapi.AuthResponse, error)
	AuthRefresh(ctx context.Context, refreshToken string) (*palapi.AuthResponse, error)
	AuthLogout(ctx context.Context) error
	AuthGetActiveSessions(ctx context.Context) (*palapi.ActiveSessionsResponse, error)
	AuthRevokeDevice(ctx context.Context, deviceName string) error
}

// Store persists the session. StoreSession must write tokens and user as one
// unit.
type Store interface {
	StoreSession(ctx context.Context, user *domain.User, accessToken, refreshToken string, expiresIn time.Duration) error
	GetTokens(ctx context.Context) domain.Tokens
	GetUser(ctx context.Context) *domain.User
	ClearTokens(ctx context.Context) error
}

type Config struct {
	API     API
	Store   Store
	Bus     *ExpiryBus
	Metrics *promx.Metrics
	Logger  *slog.Logger

	// DeviceName is sent on login when the caller passes none.
	DeviceName string
}

// Manager is the single source of truth for who is logged in. The in-memory
// session is always either complete or empty; it is replaced in one
// assignment and never mutated in place.
type Manager struct {
	api        API
	store      Store
	metrics    *promx.Metrics
	logger     *slog.Logger
	deviceName string

	// ops serialises login, register, refresh and logout.
	ops sync.Mutex

	mu      sync.RWMutex
	session domain.Session
	loading bool
	subs    map[uint64]func(domain.Session)
	nextID  uint64

	unsubscribe func()
}

// New creates a manager in the loading state. Call LoadStoredAuth once at
// startup.
func New(cfg Config) *Manager {
	m := &Manager{
		api:        cfg.API,
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		logger:     slogx.OrDefault(cfg.Logger).With("component", "session"),
		deviceName: cfg.DeviceName,
		loading:    true,
		subs:       make(map[uint64]func(domain.Session)),
	}
	if cfg.Bus != nil {
		m.unsubscribe = cfg.Bus.Subscribe(m.handleExpired)
	}
	return m
}

// LoadStoredAuth adopts the persisted session when it is complete. Partial
// data is treated as corrupt: storage is cleared and the manager stays logged
// out.
func (m *Manager) LoadStoredAuth(ctx context.Context) bool {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.setLoading(true)
	defer m.setLoading(false)

	tokens := m.store.GetTokens(ctx)
	user := m.store.GetUser(ctx)

	if user.Complete() && tokens.AccessToken != "" {
		m.adopt(domain.Session{User: user, Tokens: tokens})
		m.logger.Info("restored session", "user_id", user.ID)
		return true
	}

	if user != nil || !tokens.Empty() || tokens.RefreshToken != "" {
		m.logger.Warn("stored session incomplete, clearing",
			"has_user", user != nil,
			"has_access_token", tokens.AccessToken != "")
	}
	if err := m.store.ClearTokens(ctx); err != nil {
		m.logger.Error("failed to clear token store", "error", err)
	}
	m.adopt(domain.Session{})
	return false
}

// Login authenticates with the backend. It never returns an error: failures
// are logged and reported as false.
func (m *Manager) Login(ctx context.Context, email, password, deviceName string) bool {
	if deviceName == "" {
		deviceName = m.deviceName
	}

	m.ops.Lock()
	defer m.ops.Unlock()

	resp, err := m.api.AuthLogin(interceptor.WithoutRefresh(ctx), palapi.LoginRequest{
		Email:      email,
		Password:   password,
		DeviceName: deviceName,
	})
	ok := err == nil && m.establish(ctx, "login", resp)
	if err != nil {
		m.logger.Warn("login failed", "error", err)
	}
	m.metrics.SessionEvent("login", ok)
	return ok
}

// Register creates an account. The response must carry a complete user.
func (m *Manager) Register(ctx context.Context, email, password, displayName string) bool {
	m.ops.Lock()
	defer m.ops.Unlock()

	resp, err := m.api.AuthRegister(interceptor.WithoutRefresh(ctx), palapi.RegisterRequest{
		Email:       email,
		Password:    password,
		DisplayName: displayName,
	})
	ok := err == nil && m.establish(ctx, "register", resp)
	if err != nil {
		m.logger.Warn("register failed", "error", err)
	}
	m.metrics.SessionEvent("register", ok)
	return ok
}

// Logout tells the backend best-effort, then clears storage and memory no
// matter what the backend said.
func (m *Manager) Logout(ctx context.Context) {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.logout(ctx)
}

// RefreshTokens rotates the token pair using the stored refresh token. Any
// failure after the backend call ends in a full logout.
func (m *Manager) RefreshTokens(ctx context.Context) bool {
	m.ops.Lock()
	defer m.ops.Unlock()

	stored := m.store.GetTokens(ctx)
	if stored.RefreshToken == "" {
		m.logger.Debug("refresh skipped", "error", ErrNoRefreshToken)
		m.metrics.SessionEvent("refresh", false)
		return false
	}

	resp, err := m.api.AuthRefresh(interceptor.WithoutRefresh(ctx), stored.RefreshToken)
	if err != nil {
		m.logger.Warn("token refresh rejected, logging out", "error", err)
		m.metrics.SessionEvent("refresh", false)
		m.logout(ctx)
		return false
	}

	// Refresh responses normally repeat the user; fall back to the one we
	// already hold when they do not.
	if !resp.User.Complete() {
		resp.User = m.store.GetUser(ctx)
	}
	if !m.establish(ctx, "refresh", resp) {
		m.metrics.SessionEvent("refresh", false)
		m.logout(ctx)
		return false
	}

	m.metrics.SessionEvent("refresh", true)
	return true
}

// RefreshFunc adapts RefreshTokens for the interceptor.
func (m *Manager) RefreshFunc() interceptor.RefreshFunc {
	return func(ctx context.Context) (string, error) {
		if !m.RefreshTokens(ctx) {
			return "", ErrRefreshFailed
		}
		return m.Current().AccessToken, nil
	}
}

// Current returns a copy of the in-memory session.
func (m *Manager) Current() domain.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSession(m.session)
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.Authenticated()
}

// Loading is true until LoadStoredAuth has settled. Consumers must not treat
// a loading manager as logged out.
func (m *Manager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Subscribe registers fn for session changes.
func (m *Manager) Subscribe(fn func(domain.Session)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// ActiveSessions lists the devices logged in as the current user.
func (m *Manager) ActiveSessions(ctx context.Context) ([]palapi.ActiveSession, error) {
	resp, err := m.api.AuthGetActiveSessions(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// RevokeDevice logs out every session of deviceName.
func (m *Manager) RevokeDevice(ctx context.Context, deviceName string) error {
	return m.api.AuthRevokeDevice(ctx, deviceName)
}

// Close detaches the manager from the expiry bus.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// establish validates resp, persists it and adopts it. ops must be held.
func (m *Manager) establish(ctx context.Context, op string, resp *palapi.AuthResponse) bool {
	if resp == nil || resp.AccessToken == "" {
		m.logger.Warn(op+" response has no access token")
		return false
	}
	if !resp.User.Complete() {
		m.logger.Warn(op+" response rejected", "error", ErrIncompleteUser)
		return false
	}
	// A caller that gave up (refresh timeout, expired session) must not
	// have a late response adopted behind its back.
	if err := ctx.Err(); err != nil {
		m.logger.Warn(op+" response arrived after the caller gave up", "error", err)
		return false
	}

	user := *resp.User
	if err := m.store.StoreSession(ctx, &user, resp.AccessToken, resp.RefreshToken, resp.Lifetime()); err != nil {
		m.logger.Error(op+" could not persist session", "error", err)
		return false
	}

	m.adopt(domain.Session{
		User:   &user,
		Tokens: m.store.GetTokens(ctx),
	})
	m.logger.Info(op+" succeeded", "user_id", user.ID)
	return true
}

// logout must be called with ops held. It runs detached from ctx's
// cancellation so a timed-out refresh still clears durable storage.
func (m *Manager) logout(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logoutTimeout)
	defer cancel()

	if err := m.api.AuthLogout(interceptor.WithoutRefresh(ctx)); err != nil {
		m.logger.Debug("backend logout failed, clearing locally", "error", err)
	}
	if err := m.store.ClearTokens(ctx); err != nil {
		m.logger.Error("failed to clear token store", "error", err)
	}
	m.adopt(domain.Session{})
	m.metrics.SessionEvent("logout", true)
}

// handleExpired drops the in-memory session without any network call.
func (m *Manager) handleExpired(reason error) {
	m.logger.Info("session expired", "reason", reason)
	m.adopt(domain.Session{})
}

func (m *Manager) adopt(s domain.Session) {
	m.mu.Lock()
	m.session = s
	fns := make([]func(domain.Session), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(cloneSession(s))
	}
}

func (m *Manager) setLoading(v bool) {
	m.mu.Lock()
	m.loading = v
	m.mu.Unlock()
}

func cloneSession(s domain.Session) domain.Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
