package tokenstatus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/palpalette/client/pkg/cryptox"
	"github.com/palpalette/client/pkg/domain"
	"github.com/palpalette/client/pkg/palapi"
	"github.com/palpalette/client/pkg/slogx"
)

// DefaultInterval is the assumed validation cadence.
const DefaultInterval = 5 * time.Minute

const tickInterval = time.Second

// ErrNoToken is returned by Validate when no access token is stored.
var ErrNoToken = errors.New("tokenstatus: no access token")

// Validator asks the backend whether a token is valid.
type Validator interface {
	AuthValidate(ctx context.Context, token string) (*palapi.ValidateResponse, error)
}

// TokenSource provides the current tokens.
type TokenSource interface {
	GetTokens(ctx context.Context) domain.Tokens
}

// Status is the display view of token health. It is advisory only.
type Status struct {
	Valid           bool
	Validating      bool
	Refreshing      bool
	LastEvent       Kind
	LastError       string
	LastValidatedAt time.Time
	NextCheckIn     time.Duration
}

// Config configures a Monitor. Validator and Tokens may be nil when only
// event tracking is needed.
type Config struct {
	Validator Validator
	Tokens    TokenSource
	Clock     clockwork.Clock
	Interval  time.Duration
	Logger    *slog.Logger
}

// Monitor folds token lifecycle events into a Status and pushes it to
// observers once per second while any are attached.
type Monitor struct {
	validator Validator
	tokens    TokenSource
	clock     clockwork.Clock
	interval  time.Duration
	logger    *slog.Logger

	// results keyed by token fingerprint
	cache *ttlcache.Cache[string, bool]

	mu        sync.Mutex
	status    Status
	observers map[uint64]func(Status)
	nextID    uint64
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func New(cfg Config) *Monitor {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	return &Monitor{
		validator: cfg.Validator,
		tokens:    cfg.Tokens,
		clock:     cfg.Clock,
		interval:  cfg.Interval,
		logger:    slogx.OrDefault(cfg.Logger).With("component", "tokenstatus"),
		cache: ttlcache.New(
			ttlcache.WithTTL[string, bool](cfg.Interval),
			ttlcache.WithDisableTouchOnHit[string, bool](),
		),
		observers: make(map[uint64]func(Status)),
	}
}

// Publish implements Publisher.
func (m *Monitor) Publish(e Event) {
	if e.At.IsZero() {
		e.At = m.clock.Now()
	}

	m.mu.Lock()
	s := &m.status
	s.LastEvent = e.Kind
	switch e.Kind {
	case ValidationStart:
		s.Validating = true
	case ValidationSuccess:
		s.Validating = false
		s.Valid = true
		s.LastError = ""
		s.LastValidatedAt = e.At
	case ValidationFailure:
		s.Validating = false
		s.Valid = false
		s.LastError = errString(e.Err)
		s.LastValidatedAt = e.At
	case RefreshStart:
		s.Refreshing = true
	case RefreshSuccess:
		s.Refreshing = false
		s.Valid = true
		s.LastError = ""
		s.LastValidatedAt = e.At
	case RefreshFailure:
		s.Refreshing = false
		s.Valid = false
		s.LastError = errString(e.Err)
	}
	m.mu.Unlock()

	m.logger.Debug("token event", "kind", e.Kind.String())
	m.notify()
}

// Snapshot returns the current status.
func (m *Monitor) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recompute()
	return m.status
}

// Observe attaches fn and calls it with the current status right away. The
// ticker starts with the first observer and stops when the returned detach
// function removes the last one.
func (m *Monitor) Observe(fn func(Status)) (detach func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	if m.stopCh == nil {
		m.stopCh = make(chan struct{})
		m.doneCh = make(chan struct{})
		go m.run(m.stopCh, m.doneCh)
	}
	m.recompute()
	current := m.status
	m.mu.Unlock()

	fn(current)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.observers, id)
			if len(m.observers) == 0 {
				m.stopLocked()
			}
		})
	}
}

// Running reports whether the ticker is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCh != nil
}

// SetValidator installs the backend validator after construction, for
// clients whose transport publishes to this monitor.
func (m *Monitor) SetValidator(v Validator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validator = v
}

// Validate checks the stored access token against the backend. Results are
// cached per token for the validation interval.
func (m *Monitor) Validate(ctx context.Context) (bool, error) {
	m.mu.Lock()
	validator := m.validator
	m.mu.Unlock()

	if validator == nil || m.tokens == nil {
		return false, errors.New("tokenstatus: validation not configured")
	}

	token := m.tokens.GetTokens(ctx).AccessToken
	if token == "" {
		m.Publish(Event{Kind: ValidationFailure, Err: ErrNoToken})
		return false, ErrNoToken
	}

	key := cryptox.FingerprintToken(token)
	if item := m.cache.Get(key); item != nil {
		return item.Value(), nil
	}

	m.Publish(Event{Kind: ValidationStart})

	resp, err := validator.AuthValidate(ctx, token)
	if err != nil {
		m.logger.Warn("token validation failed", "fingerprint", cryptox.ShortFingerprint(token), "error", err)
		m.Publish(Event{Kind: ValidationFailure, Err: err})
		return false, err
	}

	m.cache.Set(key, resp.Valid, ttlcache.DefaultTTL)
	if resp.Valid {
		m.Publish(Event{Kind: ValidationSuccess})
	} else {
		m.Publish(Event{Kind: ValidationFailure, Err: errors.New("token rejected")})
	}
	return resp.Valid, nil
}

// Close detaches every observer and waits for the ticker to stop.
func (m *Monitor) Close() {
	m.mu.Lock()
	clear(m.observers)
	done := m.doneCh
	m.stopLocked()
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	m.cache.DeleteAll()
}

func (m *Monitor) stopLocked() {
	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	m.stopCh = nil
	m.doneCh = nil
}

func (m *Monitor) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := m.clock.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			m.notify()
		case <-stopCh:
			return
		}
	}
}

func (m *Monitor) notify() {
	m.mu.Lock()
	m.recompute()
	current := m.status
	fns := make([]func(Status), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(current)
	}
}

// recompute must be called with mu held.
func (m *Monitor) recompute() {
	if m.status.LastValidatedAt.IsZero() {
		m.status.NextCheckIn = 0
		return
	}
	m.status.NextCheckIn = max(0, m.status.LastValidatedAt.Add(m.interval).Sub(m.clock.Now()))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
