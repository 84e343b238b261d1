package palapi

import (
	"context"
	"net/http"
)

// AuthLogin exchanges credentials for a token pair and the user profile.
func (c *Client) AuthLogin(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthRegister creates an account and logs it in.
func (c *Client) AuthRegister(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthRefresh rotates the token pair.
func (c *Client) AuthRefresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var resp AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthLogout revokes the caller's refresh token on the backend.
func (c *Client) AuthLogout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// AuthValidate asks the backend whether token is still accepted.
func (c *Client) AuthValidate(ctx context.Context, token string) (*ValidateResponse, error) {
	var resp ValidateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/auth/validate", ValidateRequest{Token: token}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthGetActiveSessions lists the devices logged in as the current user.
func (c *Client) AuthGetActiveSessions(ctx context.Context) (*ActiveSessionsResponse, error) {
	var resp ActiveSessionsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/auth/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AuthRevokeDevice logs out every session registered under deviceName.
func (c *Client) AuthRevokeDevice(ctx context.Context, deviceName string) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/revoke-device", RevokeDeviceRequest{DeviceName: deviceName}, nil)
}
