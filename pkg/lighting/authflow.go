package lighting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/palpalette/client/pkg/idx"
	"github.com/palpalette/client/pkg/palapi"
	"github.com/palpalette/client/pkg/promx"
	"github.com/palpalette/client/pkg/slogx"
)

// Flow timing defaults.
const (
	DefaultFastPollInterval   = time.Second
	DefaultStaleGrace         = 5 * time.Second
	DefaultSuppressionTimeout = 10 * time.Second
	DefaultSuccessDelay       = 2 * time.Second
	DefaultFailureDelay       = 3 * time.Second
)

// Controller triggers device-side lighting actions.
type Controller interface {
	TestLightingSystem(ctx context.Context, deviceID string) (*palapi.TestResult, error)
	ConfigureLightingSystem(ctx context.Context, deviceID string, cfg palapi.LightingConfig) (*palapi.Device, error)
}

// AuthState is what the pairing UI renders.
type AuthState struct {
	FlowID           idx.ID
	DeviceID         string
	IsAuthenticating bool
	CurrentStep      Step
	Message          string
	PairingCode      string
	LastUpdate       time.Time
}

type FlowConfig struct {
	Poller     *Poller
	Controller Controller
	Clock      clockwork.Clock

	PollInterval       time.Duration
	FastPollInterval   time.Duration
	StaleGrace         time.Duration
	SuppressionTimeout time.Duration
	SuccessDelay       time.Duration
	FailureDelay       time.Duration

	// Callbacks are never called with the flow's lock held.
	OnChange  func(AuthState)
	OnSuccess func(AuthState)
	OnFailure func(AuthState)
	OnError   func(error)

	Metrics *promx.Metrics
	Logger  *slog.Logger
}

func (c *FlowConfig) defaults() {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.FastPollInterval <= 0 {
		c.FastPollInterval = DefaultFastPollInterval
	}
	if c.StaleGrace <= 0 {
		c.StaleGrace = DefaultStaleGrace
	}
	if c.SuppressionTimeout <= 0 {
		c.SuppressionTimeout = DefaultSuppressionTimeout
	}
	if c.SuccessDelay <= 0 {
		c.SuccessDelay = DefaultSuccessDelay
	}
	if c.FailureDelay <= 0 {
		c.FailureDelay = DefaultFailureDelay
	}
}

// AuthFlow turns polled statuses into pairing steps for one device. After a
// user action it suppresses statuses that predate the action so an old
// result is not shown as the outcome.
type AuthFlow struct {
	cfg    FlowConfig
	logger *slog.Logger

	mu          sync.Mutex
	ctx         context.Context
	state       AuthState
	lastSeq     uint64
	actionAt    time.Time
	suppressing bool
	suppressT   clockwork.Timer
	backoffT    clockwork.Timer
	callbackT   clockwork.Timer
	unsubscribe func()
	closed      bool
}

func NewAuthFlow(deviceID string, cfg FlowConfig) *AuthFlow {
	cfg.defaults()
	return &AuthFlow{
		cfg:    cfg,
		logger: slogx.OrDefault(cfg.Logger).With("component", "lighting_authflow", "device_id", deviceID),
		state:  AuthState{DeviceID: deviceID},
	}
}

// Start begins polling at the normal cadence.
func (f *AuthFlow) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrPollerClosed
	}
	f.ctx = ctx
	f.state.FlowID = idx.NewAt(f.cfg.Clock.Now())
	f.state.IsAuthenticating = true
	if f.unsubscribe == nil && f.cfg.Poller != nil {
		f.unsubscribe = f.cfg.Poller.Subscribe(f.onSnapshot)
	}
	deviceID := f.state.DeviceID
	f.mu.Unlock()

	f.logger.Info("device authentication started")
	return f.cfg.Poller.StartPolling(ctx, deviceID, f.cfg.PollInterval)
}

// TestConnection asks the device to test its lighting system and opens the
// stale-suppression window. A flow that already finished is restarted so the
// test's outcome is observed.
func (f *AuthFlow) TestConnection(ctx context.Context) (*palapi.TestResult, error) {
	res, err := f.cfg.Controller.TestLightingSystem(ctx, f.deviceID())
	if err != nil {
		f.reportError(err)
		return nil, err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return res, nil
	}
	restart := f.state.CurrentStep.Terminal()
	if restart {
		f.stopTimersLocked()
		now := f.cfg.Clock.Now()
		f.state = AuthState{
			FlowID:           idx.NewAt(now),
			DeviceID:         f.state.DeviceID,
			IsAuthenticating: true,
			LastUpdate:       now,
		}
		if f.ctx == nil {
			f.ctx = ctx
		}
		if f.unsubscribe == nil && f.cfg.Poller != nil {
			f.unsubscribe = f.cfg.Poller.Subscribe(f.onSnapshot)
		}
	}
	f.beginSuppressionLocked()
	state, pctx := f.state, f.ctx
	f.mu.Unlock()

	if !restart {
		return res, nil
	}

	f.logger.Info("restarting finished flow for connection test", "flow_id", state.FlowID.String())
	f.emitChange(state)
	if f.cfg.Poller != nil {
		if err := f.cfg.Poller.StartPolling(pctx, state.DeviceID, f.cfg.PollInterval); err != nil {
			return res, err
		}
	}
	return res, nil
}

// Configure stores a new lighting configuration and restarts the flow.
func (f *AuthFlow) Configure(ctx context.Context, cfg palapi.LightingConfig) (*palapi.Device, error) {
	dev, err := f.cfg.Controller.ConfigureLightingSystem(ctx, f.deviceID(), cfg)
	if err != nil {
		f.reportError(err)
		return nil, err
	}
	return dev, f.Retry(ctx)
}

// Retry resets the flow, polls at the fast cadence and backs off to the
// normal cadence after the suppression timeout.
func (f *AuthFlow) Retry(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrPollerClosed
	}
	f.ctx = ctx
	f.stopTimersLocked()
	f.suppressing = false
	f.state = AuthState{
		FlowID:           idx.NewAt(f.cfg.Clock.Now()),
		DeviceID:         f.state.DeviceID,
		IsAuthenticating: true,
		LastUpdate:       f.cfg.Clock.Now(),
	}
	if f.unsubscribe == nil && f.cfg.Poller != nil {
		f.unsubscribe = f.cfg.Poller.Subscribe(f.onSnapshot)
	}
	flowID := f.state.FlowID
	f.backoffT = f.cfg.Clock.AfterFunc(f.cfg.SuppressionTimeout, func() { f.backOff(flowID) })
	state := f.state
	f.mu.Unlock()

	f.emitChange(state)
	return f.cfg.Poller.StartPolling(ctx, state.DeviceID, f.cfg.FastPollInterval)
}

// State returns the current state.
func (f *AuthFlow) State() AuthState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Suppressing reports whether the stale-suppression window is open.
func (f *AuthFlow) Suppressing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suppressing
}

// Close stops polling and every pending timer. Pending callbacks never fire.
func (f *AuthFlow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.stopTimersLocked()
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if f.cfg.Poller != nil {
		f.cfg.Poller.StopPolling()
	}
}

// HandleStatus applies one polled status.
func (f *AuthFlow) HandleStatus(st *palapi.LightingStatus) {
	f.mu.Lock()
	if f.closed || f.state.CurrentStep.Terminal() {
		f.mu.Unlock()
		return
	}

	now := f.cfg.Clock.Now()
	if f.suppressing {
		if f.staleLocked(st, now) {
			changed := f.setLocked(Derivation{Step: StepWaiting, Message: MessageProcessing}, now)
			state := f.state
			f.mu.Unlock()
			if changed {
				f.emitChange(state)
			}
			return
		}
		f.endSuppressionLocked()
	}

	d, ok := Classify(st)
	if !ok {
		f.mu.Unlock()
		return
	}

	changed := f.setLocked(d, now)
	state := f.state

	switch d.Step {
	case StepSuccess:
		f.callbackT = f.cfg.Clock.AfterFunc(f.cfg.SuccessDelay, func() { f.finish(state.FlowID, f.cfg.OnSuccess) })
	case StepFailed:
		f.callbackT = f.cfg.Clock.AfterFunc(f.cfg.FailureDelay, func() { f.finish(state.FlowID, f.cfg.OnFailure) })
	}
	// Stopped under the lock so a restart that follows cannot have its new
	// schedule stopped by this one.
	if d.Step.Terminal() {
		f.stopBackoffLocked()
		if f.cfg.Poller != nil {
			f.cfg.Poller.StopPolling()
		}
	}
	f.mu.Unlock()

	if changed {
		f.emitChange(state)
	}
}

// HandleError reports a transport error. The current step is kept.
func (f *AuthFlow) HandleError(err error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if !closed {
		f.reportError(err)
	}
}

func (f *AuthFlow) onSnapshot(s Snapshot) {
	f.mu.Lock()
	if s.DeviceID != f.state.DeviceID || s.Seq <= f.lastSeq {
		f.mu.Unlock()
		return
	}
	f.lastSeq = s.Seq
	f.mu.Unlock()

	if s.Err != nil {
		f.HandleError(s.Err)
		return
	}
	f.HandleStatus(s.Status)
}

// staleLocked decides whether st may predate the last user action.
func (f *AuthFlow) staleLocked(st *palapi.LightingStatus, now time.Time) bool {
	if st != nil && st.LastTestAt != nil {
		return st.LastTestAt.Before(f.actionAt)
	}
	return now.Sub(f.actionAt) < f.cfg.StaleGrace
}

func (f *AuthFlow) beginSuppressionLocked() {
	if f.suppressT != nil {
		f.suppressT.Stop()
	}
	f.actionAt = f.cfg.Clock.Now()
	f.suppressing = true
	actionAt := f.actionAt
	f.suppressT = f.cfg.Clock.AfterFunc(f.cfg.SuppressionTimeout, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.suppressing && f.actionAt.Equal(actionAt) {
			f.logger.Debug("suppression window timed out")
			f.suppressing = false
			f.suppressT = nil
		}
	})
}

func (f *AuthFlow) endSuppressionLocked() {
	f.suppressing = false
	if f.suppressT != nil {
		f.suppressT.Stop()
		f.suppressT = nil
	}
}

// setLocked applies d and reports whether the visible state changed.
func (f *AuthFlow) setLocked(d Derivation, now time.Time) bool {
	if f.state.CurrentStep == d.Step && f.state.Message == d.Message && f.state.PairingCode == d.PairingCode {
		return false
	}
	f.state.CurrentStep = d.Step
	f.state.Message = d.Message
	f.state.PairingCode = d.PairingCode
	f.state.LastUpdate = now
	f.cfg.Metrics.AuthFlowStep(string(d.Step))
	f.logger.Info("device authentication step", "step", d.Step, "flow_id", f.state.FlowID.String())
	return true
}

func (f *AuthFlow) finish(flowID idx.ID, cb func(AuthState)) {
	f.mu.Lock()
	if f.closed || f.state.FlowID != flowID {
		f.mu.Unlock()
		return
	}
	f.state.IsAuthenticating = false
	f.callbackT = nil
	state := f.state
	f.mu.Unlock()

	if cb != nil {
		cb(state)
	}
	f.emitChange(state)
}

func (f *AuthFlow) backOff(flowID idx.ID) {
	f.mu.Lock()
	if f.closed || f.state.FlowID != flowID || f.state.CurrentStep.Terminal() {
		f.mu.Unlock()
		return
	}
	f.backoffT = nil
	ctx, deviceID := f.ctx, f.state.DeviceID
	f.mu.Unlock()

	if err := f.cfg.Poller.StartPolling(ctx, deviceID, f.cfg.PollInterval); err != nil {
		f.logger.Debug("could not return to normal cadence", "error", err)
	}
}

func (f *AuthFlow) stopBackoffLocked() {
	if f.backoffT != nil {
		f.backoffT.Stop()
		f.backoffT = nil
	}
}

func (f *AuthFlow) stopTimersLocked() {
	for _, t := range []clockwork.Timer{f.suppressT, f.backoffT, f.callbackT} {
		if t != nil {
			t.Stop()
		}
	}
	f.suppressT, f.backoffT, f.callbackT = nil, nil, nil
}

func (f *AuthFlow) reportError(err error) {
	f.logger.Warn("lighting request failed", "error", err)
	if f.cfg.OnError != nil {
		f.cfg.OnError(err)
	}
}

func (f *AuthFlow) emitChange(state AuthState) {
	if f.cfg.OnChange != nil {
		f.cfg.OnChange(state)
	}
}

func (f *AuthFlow) deviceID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.DeviceID
}
