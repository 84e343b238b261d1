package palapi

import (
	"net/http"
	"strings"
	"time"
)

// Client talks to the PalPalette backend. It carries no credentials itself:
// bearer tokens are attached by the transport installed in HTTPClient
// (see package interceptor).
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// UserAgent is sent on every request. The backend records it against the
	// refresh token so active sessions can be told apart.
	UserAgent string
}

// NewClient creates a client for baseURL. A nil httpClient gets a plain
// client with a 15 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: httpClient,
	}
}
