package slogx

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/palpalette/client/pkg/idx"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Transport logs outgoing requests and stamps them with a request id. It sits
// below the interceptor so a refreshed retry is logged as its own request.
type Transport struct {
	Base   http.RoundTripper
	Logger *slog.Logger
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, logger *slog.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{Base: base, Logger: OrDefault(logger)}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	reqID := req.Header.Get(RequestIDHeader)
	if reqID == "" {
		reqID = idx.New().String()
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, reqID)
	}

	logger := FromContext(req.Context(), t.Logger).With(
		"req_id", reqID,
		"method", req.Method,
		"path", req.URL.Path,
	)

	resp, err := t.Base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		logger.Warn("http_request_failed", "duration_ms", duration, "error", err)
		return nil, err
	}

	logger.Debug("http_request",
		"status", resp.StatusCode,
		"duration_ms", duration,
	)
	return resp, nil
}
