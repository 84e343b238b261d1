package palapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// ErrEmptyDeviceID is returned by lighting calls made without a device.
var ErrEmptyDeviceID = errors.New("palapi: empty device id")

// GetLightingStatus fetches the current lighting status of a device.
func (c *Client) GetLightingStatus(ctx context.Context, deviceID string) (*LightingStatus, error) {
	if deviceID == "" {
		return nil, ErrEmptyDeviceID
	}

	var resp LightingStatus
	if err := c.doJSON(ctx, http.MethodGet, lightingPath(deviceID, "status"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestLightingSystem asks the device to test its lighting connection.
func (c *Client) TestLightingSystem(ctx context.Context, deviceID string) (*TestResult, error) {
	if deviceID == "" {
		return nil, ErrEmptyDeviceID
	}

	var resp TestResult
	if err := c.doJSON(ctx, http.MethodPost, lightingPath(deviceID, "test"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConfigureLightingSystem stores a new lighting configuration for a device.
func (c *Client) ConfigureLightingSystem(ctx context.Context, deviceID string, cfg LightingConfig) (*Device, error) {
	if deviceID == "" {
		return nil, ErrEmptyDeviceID
	}

	var resp Device
	if err := c.doJSON(ctx, http.MethodPost, lightingPath(deviceID, "configure"), cfg, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func lightingPath(deviceID, action string) string {
	return "/devices/" + url.PathEscape(deviceID) + "/lighting/" + action
}
