package palapi

import (
	"time"

	"github.com/palpalette/client/pkg/domain"
)

// ============================================================================
// Auth
// ============================================================================

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name,omitempty"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthResponse is returned by login, register and refresh.
type AuthResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"` // seconds, 0 when omitted
	User         *domain.User `json:"user"`
}

// Lifetime returns ExpiresIn as a duration.
func (r *AuthResponse) Lifetime() time.Duration {
	return time.Duration(r.ExpiresIn) * time.Second
}

type ValidateRequest struct {
	Token string `json:"token"`
}

type ValidateResponse struct {
	Valid     bool         `json:"valid"`
	User      *domain.User `json:"user,omitempty"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}

// ActiveSession is one device holding a refresh token for the user.
type ActiveSession struct {
	DeviceName string     `json:"deviceName,omitempty"`
	IPAddress  string     `json:"ipAddress,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

type ActiveSessionsResponse struct {
	Sessions []ActiveSession `json:"sessions"`
}

type RevokeDeviceRequest struct {
	DeviceName string `json:"device_name"`
}

// ============================================================================
// Lighting
// ============================================================================

// SystemStatus is the health a device reports for its lighting hardware.
type SystemStatus string

const (
	StatusUnknown                SystemStatus = "unknown"
	StatusWorking                SystemStatus = "working"
	StatusError                  SystemStatus = "error"
	StatusAuthenticationRequired SystemStatus = "authentication_required"
)

// StatusDetails carries pairing progress while authentication is required.
type StatusDetails struct {
	PairingCode string `json:"pairingCode,omitempty"`
	AuthStep    string `json:"authStep,omitempty"`
}

// LightingStatus is a snapshot of one device's lighting system.
type LightingStatus struct {
	SystemType             string         `json:"lightingSystemType"`
	HostAddress            string         `json:"lightingHostAddress,omitempty"`
	Port                   int            `json:"lightingPort,omitempty"`
	Configured             bool           `json:"lightingSystemConfigured"`
	Status                 SystemStatus   `json:"lightingStatus"`
	LastTestAt             *time.Time     `json:"lightingLastTestAt,omitempty"`
	RequiresAuthentication bool           `json:"requiresAuthentication"`
	StatusDetails          *StatusDetails `json:"statusDetails,omitempty"`
}

// TestResult is the answer to a lighting test request. The outcome of the
// test itself shows up in a later status poll.
type TestResult struct {
	TestRequested   bool `json:"testRequested"`
	DeviceConnected bool `json:"deviceConnected"`
}

// LightingConfig configures the lighting system attached to a device.
type LightingConfig struct {
	SystemType   string         `json:"lightingSystemType"`
	HostAddress  string         `json:"lightingHostAddress,omitempty"`
	Port         int            `json:"lightingPort,omitempty"`
	AuthToken    string         `json:"lightingAuthToken,omitempty"`
	CustomConfig map[string]any `json:"lightingCustomConfig,omitempty"`
}

// Device is the subset of the device record the client reads back after
// configuration.
type Device struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	Status             string       `json:"status,omitempty"`
	LightingSystemType string       `json:"lightingSystemType,omitempty"`
	LightingConfigured bool         `json:"lightingSystemConfigured"`
	LightingStatus     SystemStatus `json:"lightingStatus,omitempty"`
}
