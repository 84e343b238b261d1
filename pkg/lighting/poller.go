package lighting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/palpalette/client/pkg/palapi"
	"github.com/palpalette/client/pkg/promx"
	"github.com/palpalette/client/pkg/slogx"
)

// DefaultPollInterval is the normal status cadence.
const DefaultPollInterval = 3 * time.Second

var (
	ErrPollerClosed = errors.New("lighting: poller closed")
	ErrNoTarget     = errors.New("lighting: no device targeted")
)

// StatusFetcher loads a device's lighting status.
type StatusFetcher interface {
	GetLightingStatus(ctx context.Context, deviceID string) (*palapi.LightingStatus, error)
}

// Snapshot is the poller's view of its device.
type Snapshot struct {
	DeviceID  string
	Status    *palapi.LightingStatus // last successful fetch
	Err       error                  // last fetch error, cleared by the next success
	Seq       uint64                 // increments with every applied fetch result
	UpdatedAt time.Time
	Polling   bool
	Interval  time.Duration
}

type PollerConfig struct {
	Fetcher StatusFetcher
	Clock   clockwork.Clock

	// Limiter throttles RefreshStatus. Defaults to one call per second.
	Limiter *rate.Limiter

	Metrics *promx.Metrics
	Logger  *slog.Logger
}

// Poller keeps a live status for one device. Each tick starts a fetch without
// waiting for the previous one; results for an abandoned target or a stopped
// poller are dropped.
type Poller struct {
	fetcher StatusFetcher
	clock   clockwork.Clock
	limiter *rate.Limiter
	metrics *promx.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	gen      uint64
	ticker   clockwork.Ticker
	stopCh   chan struct{}
	snapshot Snapshot
	subs     map[uint64]func(Snapshot)
	nextID   uint64
	closed   bool
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Limiter == nil {
		cfg.Limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}

	return &Poller{
		fetcher: cfg.Fetcher,
		clock:   cfg.Clock,
		limiter: cfg.Limiter,
		metrics: cfg.Metrics,
		logger:  slogx.OrDefault(cfg.Logger).With("component", "lighting_poller"),
		subs:    make(map[uint64]func(Snapshot)),
	}
}

// StartPolling stops any running schedule, fetches deviceID immediately and
// then every interval. Calling it again changes the cadence or the target.
func (p *Poller) StartPolling(ctx context.Context, deviceID string, interval time.Duration) error {
	if deviceID == "" {
		return ErrNoTarget
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPollerClosed
	}

	p.stopLocked()
	gen := p.retargetLocked(deviceID)

	ticker := p.clock.NewTicker(interval)
	stop := make(chan struct{})
	p.ticker, p.stopCh = ticker, stop
	p.snapshot.Polling = true
	p.snapshot.Interval = interval
	p.mu.Unlock()

	p.logger.Debug("polling started", "device_id", deviceID, "interval", interval)

	go p.fetch(ctx, deviceID, gen)
	go p.loop(ctx, ticker, stop, deviceID, gen)
	return nil
}

// StopPolling cancels the schedule. Fetches already in flight finish but
// their results are ignored. Safe to call repeatedly.
func (p *Poller) StopPolling() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopLocked() {
		p.gen++
	}
}

// SetTarget points the poller at deviceID without starting a schedule, so
// RefreshStatus can be used on its own. A new device stops polling.
func (p *Poller) SetTarget(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if deviceID != p.snapshot.DeviceID {
		p.stopLocked()
		p.retargetLocked(deviceID)
	}
}

// RefreshStatus fetches once outside the schedule and returns the fetch
// error, which is also recorded in the snapshot.
func (p *Poller) RefreshStatus(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPollerClosed
	}
	deviceID, gen := p.snapshot.DeviceID, p.gen
	p.mu.Unlock()

	if deviceID == "" {
		return ErrNoTarget
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.fetch(ctx, deviceID, gen)
}

// Snapshot returns the current view.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Subscribe registers fn for every applied fetch result. Deliveries from
// concurrent fetches may arrive out of order; use Seq to discard old ones.
func (p *Poller) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Close stops polling for good and drops all subscribers.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.closed = true
	p.gen++
	clear(p.subs)
}

func (p *Poller) loop(ctx context.Context, ticker clockwork.Ticker, stop <-chan struct{}, deviceID string, gen uint64) {
	for {
		select {
		case <-ticker.Chan():
			go p.fetch(ctx, deviceID, gen)
		case <-stop:
			return
		case <-ctx.Done():
			p.mu.Lock()
			if p.stopCh == stop {
				p.stopLocked()
			}
			p.mu.Unlock()
			return
		}
	}
}

func (p *Poller) fetch(ctx context.Context, deviceID string, gen uint64) error {
	st, err := p.fetcher.GetLightingStatus(ctx, deviceID)

	p.mu.Lock()
	if p.closed || gen != p.gen {
		p.mu.Unlock()
		p.metrics.LightingPoll("dropped")
		return err
	}

	if err != nil {
		p.snapshot.Err = err
		p.metrics.LightingPoll("error")
		p.logger.Warn("lighting status fetch failed", "device_id", deviceID, "error", err)
	} else {
		p.snapshot.Status = st
		p.snapshot.Err = nil
		p.metrics.LightingPoll("ok")
	}
	p.snapshot.Seq++
	p.snapshot.UpdatedAt = p.clock.Now()

	snap := p.snapshot
	fns := make([]func(Snapshot), 0, len(p.subs))
	for _, fn := range p.subs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
	return err
}

// stopLocked stops the ticker and reports whether one was running.
func (p *Poller) stopLocked() bool {
	if p.stopCh == nil {
		return false
	}
	p.ticker.Stop()
	close(p.stopCh)
	p.ticker, p.stopCh = nil, nil
	p.snapshot.Polling = false
	return true
}

// retargetLocked invalidates in-flight fetches and resets the snapshot when
// the device changes.
func (p *Poller) retargetLocked(deviceID string) uint64 {
	p.gen++
	if deviceID != p.snapshot.DeviceID {
		p.snapshot = Snapshot{DeviceID: deviceID, Seq: p.snapshot.Seq}
	}
	return p.gen
}
