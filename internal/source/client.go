// Package source lists an activity's recordings on the main backend, which issues signed
// download URLs for them.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/retry"
)

const serviceName = "recordings"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Video is one downloadable recording. DownloadURL is signed and expires; use it right away.
type Video struct {
	SessionID   string  `json:"sessionId"`
	AssetID     string  `json:"assetId"`
	DownloadURL string  `json:"downloadUrl"`
	Duration    float64 `json:"duration"`
	Size        int64   `json:"size"`
}

type listResponse struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Videos  []Video `json:"videos"`
}

// Client talks to the recordings endpoint of the main backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient HTTPClient
	retry      retry.Config
	logger     *zap.Logger
}

// NewClient creates a source client. timeout bounds each request.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		retry:      retry.Config{Delays: []time.Duration{time.Second, 3 * time.Second}},
		logger:     logger.With(zap.String("component", "source")),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) { c.httpClient = hc }

// SetRetry overrides the retry schedule for transient failures.
func (c *Client) SetRetry(cfg retry.Config) { c.retry = cfg }

// ListVideos returns every recording of the activity in source order. An empty list is an error.
func (c *Client) ListVideos(ctx context.Context, activityID string) ([]Video, error) {
	endpoint := fmt.Sprintf("%s/v1/100ms/recordings/activity/%s/videos", c.baseURL, url.PathEscape(activityID))

	var out listResponse
	err := retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("x-api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return merrors.Unreachable(serviceName, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return merrors.NewAPIError(serviceName, resp.StatusCode, "authentication failed, check the source API key")
		case resp.StatusCode == http.StatusNotFound:
			return merrors.NewAPIError(serviceName, resp.StatusCode, "activity not found or no recording available yet")
		case resp.StatusCode >= 300:
			return merrors.NewAPIError(serviceName, resp.StatusCode, http.StatusText(resp.StatusCode))
		}
		out = listResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode recordings: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get recording videos: %w", err)
	}
	if !out.Success || len(out.Videos) == 0 {
		return nil, merrors.Validation("no recording videos found for activity %s", activityID)
	}
	for i, v := range out.Videos {
		if v.DownloadURL == "" {
			return nil, merrors.Validation("recording %d of activity %s has no download url", i+1, activityID)
		}
	}
	c.logger.Info("listed recordings", zap.String("activity_id", activityID), zap.Int("videos", len(out.Videos)))
	return out.Videos, nil
}
