package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

// RecorderClient talks to a running screenrecd.
type RecorderClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRecorderClient creates an HTTP client with retries. addr may be a bare
// host:port or a full URL.
func NewRecorderClient(addr string) *RecorderClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil

	base := strings.TrimSuffix(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &RecorderClient{
		baseURL:    base,
		httpClient: retryClient.StandardClient(),
	}
}

// doRequest sends payload as JSON and decodes the reply into response.
func (c *RecorderClient) doRequest(ctx context.Context, method, path string, payload interface{}, response interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonBytes, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr models.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Error, Kind: apiErr.Kind}
	}

	if response != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// StatusError is a 4xx/5xx reply from the daemon.
type StatusError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("recorder returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("recorder returned status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// ===== Recorder control =====

// Consent asks the daemon for a single-use capture token.
func (c *RecorderClient) Consent(ctx context.Context) (*models.ConsentResponse, error) {
	var out models.ConsentResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/capture/consent", nil, &out); err != nil {
		return nil, fmt.Errorf("consent failed: %w", err)
	}
	return &out, nil
}

// Start obtains consent and queues START with it.
func (c *RecorderClient) Start(ctx context.Context, rotation int) (*models.CommandResponse, error) {
	consent, err := c.Consent(ctx)
	if err != nil {
		return nil, err
	}
	req := models.StartRequest{Token: consent.Token, ResultCode: consent.ResultCode, Rotation: rotation}
	var out models.CommandResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/recorder/start", req, &out); err != nil {
		return nil, fmt.Errorf("start failed: %w", err)
	}
	return &out, nil
}

// Command queues pause, resume or stop.
func (c *RecorderClient) Command(ctx context.Context, name string) (*models.CommandResponse, error) {
	var out models.CommandResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/recorder/"+name, nil, &out); err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return &out, nil
}

func (c *RecorderClient) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/recorder/status", nil, &out); err != nil {
		return nil, fmt.Errorf("status failed: %w", err)
	}
	return &out, nil
}

// ===== Locations & grants =====

func (c *RecorderClient) Grant(ctx context.Context, handle string, write bool) (*models.Grant, error) {
	var out models.Grant
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/grants", models.GrantRequest{Handle: handle, Write: write}, &out); err != nil {
		return nil, fmt.Errorf("grant failed: %w", err)
	}
	return &out, nil
}

func (c *RecorderClient) Revoke(ctx context.Context, handle string) error {
	return c.doRequest(ctx, http.MethodDelete, "/api/v1/grants?handle="+url.QueryEscape(handle), nil, nil)
}

// SetLocation selects a scoped save location; "" returns to the direct directory.
func (c *RecorderClient) SetLocation(ctx context.Context, handle string) (*models.LocationResponse, error) {
	var out models.LocationResponse
	if err := c.doRequest(ctx, http.MethodPut, "/api/v1/location", models.LocationRequest{Handle: handle}, &out); err != nil {
		return nil, fmt.Errorf("set location failed: %w", err)
	}
	return &out, nil
}

// ===== Recordings =====

func (c *RecorderClient) Recordings(ctx context.Context, limit int) ([]models.Recording, error) {
	var out []models.Recording
	path := fmt.Sprintf("/api/v1/recordings?limit=%d", limit)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list recordings failed: %w", err)
	}
	return out, nil
}

func (c *RecorderClient) LastRecording(ctx context.Context) (*models.Recording, error) {
	var out models.Recording
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/recordings/last", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
