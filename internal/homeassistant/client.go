// Package homeassistant provides a client for the Home Assistant API.
// Tidewatch uses it to fetch camera snapshots for zone checks and to
// verify connectivity at startup.
package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hollowpine/tidewatch/internal/httpkit"
)

// CaptureError is returned when a camera snapshot cannot be fetched.
type CaptureError struct {
	Entity string
	Err    error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture image from %s: %v", e.Entity, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Client is a Home Assistant REST API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new Home Assistant client. LAN targets drop off
// the network briefly now and then, so transient dial failures are
// retried with a short delay.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30*time.Second),
			httpkit.WithRetry(3, 2*time.Second),
			httpkit.WithLogger(logger),
		),
	}
}

// APIStatus represents the HA API status response.
type APIStatus struct {
	Message string `json:"message"`
}

// Config represents basic HA configuration.
type Config struct {
	LocationName string `json:"location_name"`
	TimeZone     string `json:"time_zone"`
	Version      string `json:"version"`
}

// Ping checks if the API is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var status APIStatus
	if err := c.getJSON(ctx, "/api/", &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetConfig retrieves the Home Assistant configuration.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.getJSON(ctx, "/api/config", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// CameraSnapshot fetches the current still image for a camera entity
// via the camera proxy endpoint. The returned bytes are the image as
// HA serves it (JPEG for nearly all camera platforms).
func (c *Client) CameraSnapshot(ctx context.Context, entityID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/camera_proxy/"+entityID, nil)
	if err != nil {
		return nil, &CaptureError{Entity: entityID, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &CaptureError{Entity: entityID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, &CaptureError{
			Entity: entityID,
			Err:    fmt.Errorf("API error %d: %s", resp.StatusCode, body),
		}
	}

	image, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CaptureError{Entity: entityID, Err: fmt.Errorf("read image body: %w", err)}
	}
	if len(image) == 0 {
		return nil, &CaptureError{Entity: entityID, Err: fmt.Errorf("empty image body")}
	}

	c.logger.Debug("camera snapshot fetched", "entity", entityID, "bytes", len(image))
	return image, nil
}

// getJSON performs a GET request to the HA API and decodes the response.
func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	// Drain and close to ensure connection reuse even when result is nil.
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, body)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}
