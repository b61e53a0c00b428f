// Package bunny is the destination host client: Bunny Stream video creation and TUS publishing.
package bunny

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/retry"
	"github.com/aura-webinar/session-migrator/internal/transfer"
)

const serviceName = "bunny"

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds Bunny Stream credentials and upload tuning.
type Config struct {
	LibraryID       string
	APIKey          string
	APIBaseURL      string
	TUSEndpoint     string
	ChunkSize       int64
	SignatureExpire time.Duration
}

// Video is the subset of the create-video response the pipeline uses.
type Video struct {
	GUID           string `json:"guid"`
	Title          string `json:"title"`
	VideoLibraryID int64  `json:"videoLibraryId"`
	Status         int    `json:"status"`
}

// Client creates videos and uploads their content.
type Client struct {
	cfg        Config
	httpClient HTTPClient
	uploader   *transfer.Uploader
	retry      retry.Config
	now        func() time.Time
	logger     *zap.Logger
}

// NewClient creates a Bunny Stream client. Uploads go through uploader.
func NewClient(cfg Config, uploader *transfer.Uploader, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.APIBaseURL = strings.TrimSuffix(cfg.APIBaseURL, "/")
	if cfg.SignatureExpire <= 0 {
		cfg.SignatureExpire = time.Hour
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		uploader:   uploader,
		retry:      retry.Config{Delays: []time.Duration{time.Second, 3 * time.Second}},
		now:        time.Now,
		logger:     logger.With(zap.String("component", serviceName)),
	}
}

// SetHTTPClient sets a custom HTTP client for API calls.
func (c *Client) SetHTTPClient(hc HTTPClient) { c.httpClient = hc }

// SetRetry overrides the create-video retry schedule.
func (c *Client) SetRetry(cfg retry.Config) { c.retry = cfg }

// CreateVideo creates an empty video object in collectionID and returns it.
func (c *Client) CreateVideo(ctx context.Context, title, collectionID string) (*Video, error) {
	payload := map[string]string{"title": title}
	if collectionID != "" {
		payload["collectionId"] = collectionID
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal create video: %w", err)
	}

	var video Video
	err = retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/videos", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("AccessKey", c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return merrors.Unreachable(serviceName, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return merrors.NewAPIError(serviceName, resp.StatusCode, errorMessage(resp.Body))
		}
		if err := json.NewDecoder(resp.Body).Decode(&video); err != nil {
			return fmt.Errorf("decode create video: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create video in Bunny Stream: %w", err)
	}
	if video.GUID == "" {
		return nil, merrors.NewAPIError(serviceName, http.StatusOK, "create video returned no guid")
	}
	c.logger.Info("created video", zap.String("video_id", video.GUID), zap.String("title", title))
	return &video, nil
}

// Sign returns the TUS authorization signature for videoID valid until expire (unix seconds).
func (c *Client) Sign(videoID string, expire int64) string {
	sum := sha256.Sum256([]byte(c.cfg.LibraryID + c.cfg.APIKey + strconv.FormatInt(expire, 10) + videoID))
	return hex.EncodeToString(sum[:])
}

// Session builds the resumable upload session for an existing video.
func (c *Client) Session(videoID, title, collectionID string) transfer.Session {
	expire := c.now().Add(c.cfg.SignatureExpire).Unix()
	meta := map[string]string{"filetype": "video/mp4", "title": title}
	if collectionID != "" {
		meta["collection"] = collectionID
	}
	return transfer.Session{
		Endpoint:      c.cfg.TUSEndpoint,
		AuthSignature: c.Sign(videoID, expire),
		AuthExpiry:    expire,
		AssetID:       videoID,
		LibraryID:     c.cfg.LibraryID,
		ChunkSize:     c.cfg.ChunkSize,
		Metadata:      meta,
	}
}

// Publish creates a video and uploads localPath into it, returning the video id.
func (c *Client) Publish(ctx context.Context, localPath, title, collectionID string, progress transfer.ProgressFunc) (string, error) {
	video, err := c.CreateVideo(ctx, title, collectionID)
	if err != nil {
		return "", err
	}
	id, err := c.uploader.Upload(ctx, localPath, c.Session(video.GUID, title, collectionID), progress)
	if err != nil {
		return "", fmt.Errorf("upload video %s: %w", video.GUID, err)
	}
	return id, nil
}

func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return "request failed"
}

// Disabled stands in for the client when uploads to Bunny Stream are switched off. Every
// publish fails as a validation error, so videos stay downloaded and retry once re-enabled.
type Disabled struct{}

func (Disabled) Publish(ctx context.Context, localPath, title, collectionID string, progress transfer.ProgressFunc) (string, error) {
	return "", merrors.Validation("bunny stream uploads are disabled")
}
