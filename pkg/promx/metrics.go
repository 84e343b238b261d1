package promx

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "palpalette_client"

// Refresh outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeFailure     = "failure"
	OutcomeTimeout     = "timeout"
	OutcomeUnavailable = "unavailable"
)

// Metrics holds the client's collectors. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	RefreshTotal        *prometheus.CounterVec
	RefreshDuration     prometheus.Histogram
	UnauthorizedTotal   prometheus.Counter
	QueuedRequestsTotal prometheus.Counter
	RetriedRequests     *prometheus.CounterVec
	SessionEvents       *prometheus.CounterVec
	LightingPolls       *prometheus.CounterVec
	AuthFlowSteps       *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		RefreshTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refresh_total",
			Help:      "Token refresh waves by outcome.",
		}, []string{"outcome"}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "token_refresh_duration_seconds",
			Help:      "Duration of token refresh waves.",
			Buckets:   prometheus.DefBuckets,
		}),
		UnauthorizedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unauthorized_responses_total",
			Help:      "401 responses seen by the interceptor.",
		}),
		QueuedRequestsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_queued_requests_total",
			Help:      "Requests that waited on an in-flight refresh.",
		}),
		RetriedRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retried_requests_total",
			Help:      "Requests replayed after a refresh, by retry status class.",
		}, []string{"status"}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Auth session operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		LightingPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lighting_polls_total",
			Help:      "Lighting status fetches by outcome.",
		}, []string{"outcome"}),
		AuthFlowSteps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "device_auth_steps_total",
			Help:      "Device authentication step transitions.",
		}, []string{"step"}),
	}
}

// ObserveRefresh records one refresh wave.
func (m *Metrics) ObserveRefresh(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.RefreshTotal.WithLabelValues(outcome).Inc()
	m.RefreshDuration.Observe(took.Seconds())
}

func (m *Metrics) Unauthorized() {
	if m == nil {
		return
	}
	m.UnauthorizedTotal.Inc()
}

func (m *Metrics) Queued() {
	if m == nil {
		return
	}
	m.QueuedRequestsTotal.Inc()
}

// Retried records the status class ("2xx", "4xx", ...) of a replayed request.
func (m *Metrics) Retried(status int) {
	if m == nil {
		return
	}
	m.RetriedRequests.WithLabelValues(statusClass(status)).Inc()
}

func (m *Metrics) SessionEvent(op string, ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeFailure
	}
	m.SessionEvents.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) LightingPoll(outcome string) {
	if m == nil {
		return
	}
	m.LightingPolls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuthFlowStep(step string) {
	if m == nil {
		return
	}
	m.AuthFlowSteps.WithLabelValues(step).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}
