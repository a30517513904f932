package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// CreateDevice registers a new device.
func (c *Client) CreateDevice(ctx context.Context, d *Device) (*Device, error) {
	var created Device
	if err := c.sendJSON(ctx, http.MethodPost, "/v1/devices", d, &created); err != nil {
		return nil, fmt.Errorf("creating device %s: %w", d.ID, err)
	}

	return &created, nil
}

// UpdateDevice replaces a device with the given payload snapshot.
func (c *Client) UpdateDevice(ctx context.Context, d *Device) (*Device, error) {
	var updated Device
	if err := c.sendJSON(ctx, http.MethodPut, "/v1/devices/"+url.PathEscape(d.ID), d, &updated); err != nil {
		return nil, fmt.Errorf("updating device %s: %w", d.ID, err)
	}

	return &updated, nil
}

// DeleteDevice removes a device.
func (c *Client) DeleteDevice(ctx context.Context, id string) error {
	if err := c.delete(ctx, "/v1/devices/"+url.PathEscape(id)); err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}

	return nil
}

// ListDevices fetches all devices, following pagination cursors.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	return listAll[Device](ctx, c, "/v1/devices")
}
