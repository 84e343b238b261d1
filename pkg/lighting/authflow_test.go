package lighting

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/palpalette/client/pkg/palapi"
	"github.com/palpalette/client/pkg/slogx"
)

type fakeController struct {
	testErr    error
	configured atomic.Int32
}

func (c *fakeController) TestLightingSystem(context.Context, string) (*palapi.TestResult, error) {
	if c.testErr != nil {
		return nil, c.testErr
	}
	return &palapi.TestResult{TestRequested: true, DeviceConnected: true}, nil
}

func (c *fakeController) ConfigureLightingSystem(_ context.Context, deviceID string, cfg palapi.LightingConfig) (*palapi.Device, error) {
	c.configured.Add(1)
	return &palapi.Device{ID: deviceID, LightingSystemType: cfg.SystemType, LightingConfigured: true}, nil
}

// flowHarness wires a flow to a fake clock and records callbacks.
type flowHarness struct {
	flow    *AuthFlow
	poller  *Poller
	fetcher *fakeFetcher
	ctrl    *fakeController
	clock   *clockwork.FakeClock

	successes atomic.Int32
	failures  atomic.Int32

	mu     sync.Mutex
	errors []error
}

func newFlowHarness(t *testing.T) *flowHarness {
	t.Helper()
	h := &flowHarness{
		clock:   clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		ctrl:    &fakeController{},
		fetcher: &fakeFetcher{fn: respondWith(palapi.LightingStatus{Status: palapi.StatusAuthenticationRequired})},
	}
	h.poller = newTestPoller(t, h.fetcher, h.clock)
	h.flow = NewAuthFlow("d1", FlowConfig{
		Poller:     h.poller,
		Controller: h.ctrl,
		Clock:      h.clock,
		OnSuccess:  func(AuthState) { h.successes.Add(1) },
		OnFailure:  func(AuthState) { h.failures.Add(1) },
		OnError: func(err error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.errors = append(h.errors, err)
		},
		Logger: slogx.Discard(),
	})
	t.Cleanup(h.flow.Close)
	return h
}

func (h *flowHarness) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errors)
}

func at(t time.Time) *time.Time { return &t }

func TestStaleSuppressionScenario(t *testing.T) {
	t.Parallel()
	h := newFlowHarness(t)
	t0 := h.clock.Now()

	_, err := h.flow.TestConnection(context.Background())
	require.NoError(t, err)
	require.True(t, h.flow.Suppressing())

	// A poll 500ms after the action still carries the previous test.
	h.clock.Advance(500 * time.Millisecond)
	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusWorking, LastTestAt: at(t0.Add(-time.Second))})

	s := h.flow.State()
	require.Equal(t, StepWaiting, s.CurrentStep)
	require.Equal(t, MessageProcessing, s.Message)
	require.True(t, h.flow.Suppressing())

	// At 2s the device reports a test run after the action.
	h.clock.Advance(1500 * time.Millisecond)
	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusWorking, LastTestAt: at(t0.Add(time.Second))})

	require.Equal(t, StepSuccess, h.flow.State().CurrentStep)
	require.False(t, h.flow.Suppressing())

	h.clock.Advance(DefaultSuccessDelay - time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.successes.Load())

	h.clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return h.successes.Load() == 1 }, time.Second, time.Millisecond)
	require.False(t, h.flow.State().IsAuthenticating)
	require.Zero(t, h.failures.Load())
}

func TestGracePeriodWithoutTimestamp(t *testing.T) {
	t.Parallel()
	h := newFlowHarness(t)

	_, err := h.flow.TestConnection(context.Background())
	require.NoError(t, err)

	h.clock.Advance(time.Second)
	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusError})
	require.Equal(t, StepWaiting, h.flow.State().CurrentStep)

	h.clock.Advance(DefaultStaleGrace)
	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusError})
	require.Equal(t, StepFailed, h.flow.State().CurrentStep)

	h.clock.Advance(DefaultFailureDelay)
	require.Eventually(t, func() bool { return h.failures.Load() == 1 }, time.Second, time.Millisecond)
	require.Zero(t, h.successes.Load())
}

func TestSuppressionTimesOut(t *testing.T) {
	t.Parallel()
	h := newFlowHarness(t)
	t0 := h.clock.Now()

	_, err := h.flow.TestConnection(context.Background())
	require.NoError(t, err)

	old := &palapi.LightingStatus{Status: palapi.StatusWorking, LastTestAt: at(t0.Add(-time.Minute))}
	h.flow.HandleStatus(old)
	require.Equal(t, StepWaiting, h.flow.State().CurrentStep)

	h.clock.Advance(DefaultSuppressionTimeout)
	require.Eventually(t, func() bool { return !h.flow.Suppressing() }, time.Second, time.Millisecond)

	h.flow.HandleStatus(old)
	require.Equal(t, StepSuccess, h.flow.State().CurrentStep)
}

func TestDerivationWithoutAction(t *testing.T) {
	t.Parallel()
	h := newFlowHarness(t)

	require.Equal(t, StepNone, h.flow.State().CurrentStep)

	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusAuthenticationRequired, StatusDetails: &palapi.StatusDetails{}})
	require.Equal(t, StepPressPowerButton, h.flow.State().CurrentStep)

	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusAuthenticationRequired, StatusDetails: &palapi.StatusDetails{PairingCode: "123456"}})
	s := h.flow.State()
	require.Equal(t, StepEnterPairingCode, s.CurrentStep)
	require.Equal(t, "123456", s.PairingCode)

	// Unclassifiable statuses keep the step.
	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusUnknown})
	require.Equal(t, StepEnterPairingCode, h.flow.State().CurrentStep)

	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusUnknown, Configured: true, RequiresAuthentication: true})
	s = h.flow.State()
	require.Equal(t, StepWaiting, s.CurrentStep)
	require.Equal(t, MessageCheckingStatus, s.Message)
	require.Zero(t, h.successes.Load()+h.failures.Load())
}

func TestTransportErrorsKeepStep(t *testing.T) {
	t.Parallel()
	h := newFlowHarness(t)

	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusAuthenticationRequired})
	h.flow.HandleError(errors.New("connection reset"))

	require.Equal(t, StepPressPowerButton, h.flow.State().CurrentStep)
	require.Equal(t, 1, h.errorCount())

	h.ctrl.testErr = errors.New("device offline")
	_, err := h.flow.TestConnection(context.Background())
	require.Error(t, err)
	require.False(t, h.flow.Suppressing())
	require.Equal(t, 2, h.errorCount())
}

func TestFlowDrivenByPoller(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := newFlowHarness(t)

	h.fetcher.set(respondWith(palapi.LightingStatus{
		Status:        palapi.StatusAuthenticationRequired,
		StatusDetails: &palapi.StatusDetails{PairingCode: "424242"},
	}))
	require.NoError(t, h.flow.Start(ctx))
	require.False(t, h.flow.State().FlowID.IsZero())

	require.Eventually(t, func() bool {
		return h.flow.State().CurrentStep == StepEnterPairingCode
	}, time.Second, time.Millisecond)

	h.fetcher.set(respondWith(palapi.LightingStatus{Status: palapi.StatusWorking}))
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(DefaultPollInterval)

	require.Eventually(t, func() bool {
		return h.flow.State().CurrentStep == StepSuccess && !h.poller.Snapshot().Polling
	}, time.Second, time.Millisecond)

	h.clock.Advance(DefaultSuccessDelay)
	require.Eventually(t, func() bool { return h.successes.Load() == 1 }, time.Second, time.Millisecond)
}

func TestPollErrorsGoToSideChannel(t *testing.T) {
	t.Parallel()
	h := newFlowHarness(t)

	h.fetcher.set(func(context.Context, string) (*palapi.LightingStatus, error) {
		return nil, errors.New("bad gateway")
	})
	require.NoError(t, h.flow.Start(context.Background()))

	require.Eventually(t, func() bool { return h.errorCount() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, StepNone, h.flow.State().CurrentStep)
}

func TestRetryPollsFastThenBacksOff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := newFlowHarness(t)

	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusError})
	require.Equal(t, StepFailed, h.flow.State().CurrentStep)
	firstFlow := h.flow.State().FlowID

	require.NoError(t, h.flow.Retry(ctx))
	s := h.flow.State()
	require.NotEqual(t, firstFlow, s.FlowID)
	require.True(t, s.IsAuthenticating)
	require.Equal(t, DefaultFastPollInterval, h.poller.Snapshot().Interval)

	// The pending failure callback belonged to the old flow.
	h.clock.Advance(DefaultFailureDelay)

	require.Eventually(t, func() bool {
		return h.flow.State().CurrentStep == StepPressPowerButton
	}, time.Second, time.Millisecond)

	h.clock.Advance(DefaultSuppressionTimeout)
	require.Eventually(t, func() bool {
		return h.poller.Snapshot().Interval == DefaultPollInterval
	}, time.Second, time.Millisecond)
	require.Zero(t, h.failures.Load())
}

func TestCloseCancelsPendingCallback(t *testing.T) {
	t.Parallel()
	h := newFlowHarness(t)

	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusWorking})
	require.Equal(t, StepSuccess, h.flow.State().CurrentStep)

	h.flow.Close()
	h.clock.Advance(DefaultSuccessDelay)
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, h.successes.Load())

	// Statuses after close are ignored.
	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusError})
	require.Equal(t, StepSuccess, h.flow.State().CurrentStep)
}

func TestConfigureRestartsFlow(t *testing.T) {
	t.Parallel()
	h := newFlowHarness(t)

	h.flow.HandleStatus(&palapi.LightingStatus{Status: palapi.StatusError})

	dev, err := h.flow.Configure(context.Background(), palapi.LightingConfig{SystemType: "nanoleaf", HostAddress: "10.0.0.9"})
	require.NoError(t, err)
	require.Equal(t, "nanoleaf", dev.LightingSystemType)
	require.EqualValues(t, 1, h.ctrl.configured.Load())
	require.NotEqual(t, StepFailed, h.flow.State().CurrentStep)
	require.True(t, h.poller.Snapshot().Polling)
}

func TestConnectionTestRestartsFinishedFlow(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := newFlowHarness(t)
	t0 := h.clock.Now()

	// The device still reports the outcome of a test from an hour ago.
	h.fetcher.set(respondWith(palapi.LightingStatus{Status: palapi.StatusError, LastTestAt: at(t0.Add(-time.Hour))}))
	require.NoError(t, h.flow.Start(ctx))
	require.Eventually(t, func() bool {
		return h.flow.State().CurrentStep == StepFailed && !h.poller.Snapshot().Polling
	}, time.Second, time.Millisecond)
	failedFlow := h.flow.State().FlowID

	_, err := h.flow.TestConnection(ctx)
	require.NoError(t, err)

	s := h.flow.State()
	require.NotEqual(t, failedFlow, s.FlowID)
	require.True(t, s.IsAuthenticating)
	require.True(t, h.flow.Suppressing())
	require.True(t, h.poller.Snapshot().Polling)

	// The old failure is held back while the new test runs.
	require.Eventually(t, func() bool {
		s := h.flow.State()
		return s.CurrentStep == StepWaiting && s.Message == MessageProcessing
	}, time.Second, time.Millisecond)

	h.fetcher.set(respondWith(palapi.LightingStatus{Status: palapi.StatusWorking, LastTestAt: at(t0.Add(time.Second))}))
	h.clock.Advance(DefaultPollInterval)
	require.Eventually(t, func() bool {
		return h.flow.State().CurrentStep == StepSuccess
	}, time.Second, time.Millisecond)

	h.clock.Advance(DefaultSuccessDelay)
	require.Eventually(t, func() bool { return h.successes.Load() == 1 }, time.Second, time.Millisecond)
	require.Zero(t, h.failures.Load())
}

func TestConnectionTestBeforeStartHidesPreviousResult(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h := newFlowHarness(t)
	t0 := h.clock.Now()

	h.fetcher.set(respondWith(palapi.LightingStatus{Status: palapi.StatusWorking, LastTestAt: at(t0.Add(-time.Hour))}))

	_, err := h.flow.TestConnection(ctx)
	require.NoError(t, err)
	require.False(t, h.poller.Snapshot().Polling)

	require.NoError(t, h.flow.Start(ctx))
	require.Eventually(t, func() bool {
		return h.flow.State().CurrentStep == StepWaiting
	}, time.Second, time.Millisecond)
	require.Zero(t, h.successes.Load())

	h.fetcher.set(respondWith(palapi.LightingStatus{Status: palapi.StatusWorking, LastTestAt: at(t0.Add(time.Second))}))
	h.clock.Advance(DefaultPollInterval)
	require.Eventually(t, func() bool {
		return h.flow.State().CurrentStep == StepSuccess
	}, time.Second, time.Millisecond)
}
