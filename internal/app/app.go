package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/palpalette/client/pkg/cryptox"
	"github.com/palpalette/client/pkg/interceptor"
	"github.com/palpalette/client/pkg/lighting"
	"github.com/palpalette/client/pkg/palapi"
	"github.com/palpalette/client/pkg/promx"
	"github.com/palpalette/client/pkg/session"
	"github.com/palpalette/client/pkg/slogx"
	"github.com/palpalette/client/pkg/tokenstatus"
	"github.com/palpalette/client/pkg/tokenstore"
	"github.com/palpalette/client/pkg/tokenstore/redisstore"
	"github.com/palpalette/client/pkg/tokenstore/sqlitestore"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the client core: token store, interceptor, API client,
// session manager and token status monitor.
type Application struct {
	cfg    Config
	logger *slog.Logger
	clock  clockwork.Clock

	registry *prometheus.Registry
	metrics  *promx.Metrics

	store     *tokenstore.SecureStore
	transport *interceptor.Transport
	api       *palapi.Client
	bus       *session.ExpiryBus
	sessions  *session.Manager
	monitor   *tokenstatus.Monitor
	limiter   *rate.Limiter
}

type Option func(*Application)

// WithClock replaces the real clock for every timer in the application.
func WithClock(c clockwork.Clock) Option {
	return func(a *Application) { a.clock = c }
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *slog.Logger) Option {
	return func(a *Application) { a.logger = l }
}

// New creates an Application with all dependencies initialised. Stored
// credentials are not loaded until Start.
func New(ctx context.Context, cfg Config, opts ...Option) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		app.logger = slogx.New(slogx.Config{
			Service: "palpalette-cli",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		})
	}
	app.metrics = promx.New(app.registry)

	if err := app.initStore(ctx); err != nil {
		return nil, err
	}
	app.initClient()
	app.initServices()

	return app, nil
}

// Start restores the persisted session. It reports whether one was found.
func (app *Application) Start(ctx context.Context) bool {
	return app.sessions.LoadStoredAuth(ctx)
}

// Close releases the token store and stops background work.
func (app *Application) Close() error {
	app.monitor.Close()
	app.sessions.Close()

	if err := app.store.Close(); err != nil {
		app.logger.Error("error closing token store", "error", err)
		return err
	}
	return nil
}

func (app *Application) Config() Config { return app.cfg }
func (app *Application) Logger() *slog.Logger { return app.logger }
func (app *Application) Registry() *prometheus.Registry { return app.registry }
func (app *Application) Store() *tokenstore.SecureStore { return app.store }
func (app *Application) API() *palapi.Client { return app.api }
func (app *Application) Sessions() *session.Manager { return app.sessions }
func (app *Application) Monitor() *tokenstatus.Monitor { return app.monitor }
func (app *Application) Transport() *interceptor.Transport { return app.transport }
func (app *Application) ExpiryBus() *session.ExpiryBus { return app.bus }

// NewPoller creates a lighting status poller backed by the API client.
func (app *Application) NewPoller() *lighting.Poller {
	return lighting.NewPoller(lighting.PollerConfig{
		Fetcher: app.api,
		Clock:   app.clock,
		Limiter: app.limiter,
		Metrics: app.metrics,
		Logger:  app.logger,
	})
}

// NewAuthFlow creates a device authentication flow with the configured
// timings. Callbacks set on hooks are kept; a nil hooks.Poller gets a fresh
// poller.
func (app *Application) NewAuthFlow(deviceID string, hooks lighting.FlowConfig) *lighting.AuthFlow {
	if hooks.Poller == nil {
		hooks.Poller = app.NewPoller()
	}
	hooks.Controller = app.api
	hooks.Clock = app.clock
	hooks.PollInterval = app.cfg.PollInterval
	hooks.FastPollInterval = app.cfg.FastPollInterval
	hooks.StaleGrace = app.cfg.StaleGrace
	hooks.SuppressionTimeout = app.cfg.SuppressionTimeout
	hooks.SuccessDelay = app.cfg.SuccessDelay
	hooks.FailureDelay = app.cfg.FailureDelay
	hooks.Metrics = app.metrics
	hooks.Logger = app.logger
	return lighting.NewAuthFlow(deviceID, hooks)
}

// initStore opens the configured backend and wraps it in the secure store.
func (app *Application) initStore(ctx context.Context) error {
	backend, err := app.openBackend(ctx)
	if err != nil {
		return err
	}

	if app.cfg.TokenSealKey != "" {
		sealer, err := cryptox.NewSealer([]byte(app.cfg.TokenSealKey))
		if err != nil {
			if backend != nil {
				_ = backend.Close()
			}
			return fmt.Errorf("failed to initialize token sealing: %w", err)
		}
		if backend == nil {
			backend = tokenstore.NewMemoryBackend()
		}
		backend = tokenstore.NewSealedBackend(backend, sealer)
	}

	app.store = tokenstore.New(backend,
		tokenstore.WithLogger(app.logger),
		tokenstore.WithClock(app.clock),
	)
	app.logger.Debug("token store ready", "backend", app.cfg.TokenStore, "sealed", app.cfg.TokenSealKey != "")
	return nil
}

// openBackend returns nil for the memory store.
func (app *Application) openBackend(ctx context.Context) (tokenstore.Backend, error) {
	switch app.cfg.TokenStore {
	case StoreMemory:
		return nil, nil

	case StoreFile:
		b, err := tokenstore.NewFileBackend(app.cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize file token store: %w", err)
		}
		return b, nil

	case StoreSQLite:
		path := app.cfg.TokenDB
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			path = filepath.Join(home, ".palpalette", "session.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		b, err := sqlitestore.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite token store: %w", err)
		}
		return b, nil

	case StoreRedis:
		b, err := redisstore.Dial(ctx, app.cfg.RedisAddr, app.cfg.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis token store: %w", err)
		}
		return b, nil
	}
	return nil, errors.New("unknown token store " + app.cfg.TokenStore)
}

// initClient builds the HTTP stack: request logging below the interceptor,
// the API client on top.
func (app *Application) initClient() {
	app.bus = session.NewExpiryBus()

	app.monitor = tokenstatus.New(tokenstatus.Config{
		Tokens:   app.store,
		Clock:    app.clock,
		Interval: app.cfg.ValidationInterval,
		Logger:   app.logger,
	})

	app.transport = interceptor.New(interceptor.Config{
		Base:             slogx.NewTransport(nil, app.logger),
		Tokens:           app.store,
		Clock:            app.clock,
		RefreshTimeout:   app.cfg.RefreshTimeout,
		Events:           app.monitor,
		Metrics:          app.metrics,
		Logger:           app.logger,
		OnSessionExpired: app.bus.Publish,
	})

	app.api = palapi.NewClient(app.cfg.APIURL, app.transport.Client(app.cfg.HTTPTimeout))
	app.api.UserAgent = app.cfg.UserAgent
	app.monitor.SetValidator(app.api)
}

func (app *Application) initServices() {
	app.sessions = session.New(session.Config{
		API:        app.api,
		Store:      app.store,
		Bus:        app.bus,
		Metrics:    app.metrics,
		Logger:     app.logger,
		DeviceName: app.cfg.DeviceName,
	})
	app.transport.SetRefreshFunc(app.sessions.RefreshFunc())

	limit := rate.Limit(app.cfg.ManualRefreshRate)
	if app.cfg.ManualRefreshRate == 0 {
		limit = rate.Inf
	}
	burst := app.cfg.ManualRefreshBurst
	if burst < 1 {
		burst = 1
	}
	app.limiter = rate.NewLimiter(limit, burst)
}
