package transfer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/eventials/go-tus"
	"github.com/eventials/go-tus/memorystore"
	"go.uber.org/zap"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/retry"
)

// DefaultChunkSize is the fixed TUS chunk size.
const DefaultChunkSize int64 = 50 * 1024 * 1024

// Session describes one resumable upload to the destination host.
type Session struct {
	Endpoint      string
	AuthSignature string
	AuthExpiry    int64
	AssetID       string
	LibraryID     string
	ChunkSize     int64
	Metadata      map[string]string
}

// Uploader performs resumable chunked uploads over the TUS protocol.
type Uploader struct {
	client *http.Client
	delays []time.Duration
	logger *zap.Logger
}

// NewUploader creates an uploader retrying failed chunks per delays.
func NewUploader(delays []time.Duration, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if delays == nil {
		delays = retry.DefaultDelays
	}
	return &Uploader{client: &http.Client{}, delays: delays, logger: logger}
}

// WithHTTPClient overrides the HTTP client (tests, proxies).
func (u *Uploader) WithHTTPClient(c *http.Client) *Uploader {
	u.client = c
	return u
}

// Upload sends localPath in ordered chunks and returns the session's asset id on success.
// After a failed chunk it waits per the retry schedule, asks the server for the committed
// offset and continues from there. Consecutive failures beyond the schedule abort the upload.
func (u *Uploader) Upload(ctx context.Context, localPath string, s Session, progress ProgressFunc) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", merrors.Transfer("open upload file", err)
	}
	defer f.Close()

	store, err := memorystore.NewMemoryStore()
	if err != nil {
		return "", merrors.Transfer("create upload store", err)
	}
	cfg := tus.DefaultConfig()
	cfg.ChunkSize = s.ChunkSize
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	cfg.Resume = true
	cfg.Store = store
	cfg.HttpClient = u.client
	cfg.Header = make(http.Header)
	cfg.Header.Set("AuthorizationSignature", s.AuthSignature)
	cfg.Header.Set("AuthorizationExpire", strconv.FormatInt(s.AuthExpiry, 10))
	cfg.Header.Set("VideoId", s.AssetID)
	cfg.Header.Set("LibraryId", s.LibraryID)

	client, err := tus.NewClient(s.Endpoint, cfg)
	if err != nil {
		return "", merrors.Transfer("create upload client", err)
	}
	upload, err := tus.NewUploadFromFile(f)
	if err != nil {
		return "", merrors.Transfer("prepare upload", err)
	}
	for k, v := range s.Metadata {
		upload.Metadata[k] = v
	}

	total := upload.Size()
	// progress is read from the committed offset; go-tus subscriptions send after Upload returns
	report := newMonotonic(progress)

	var (
		uploader *tus.Uploader
		created  bool
		failures int
	)
	for {
		if err := ctx.Err(); err != nil {
			return "", merrors.Transfer("upload aborted", err)
		}
		var stepErr error
		if uploader == nil {
			if created {
				uploader, stepErr = client.ResumeUpload(upload)
				if errors.Is(stepErr, tus.ErrUploadNotFound) {
					created = false
				}
			} else {
				uploader, stepErr = client.CreateUpload(upload)
				created = stepErr == nil
			}
			if stepErr == nil {
				report.report(uploader.Offset(), total)
			}
		}
		if stepErr == nil {
			if uploader.Offset() >= total {
				break
			}
			stepErr = uploader.UploadChunck()
			if stepErr == nil {
				failures = 0
				report.report(uploader.Offset(), total)
				continue
			}
		}

		if failures >= len(u.delays) {
			return "", merrors.Transfer(fmt.Sprintf("upload failed after %d attempts", failures+1), stepErr)
		}
		delay := u.delays[failures]
		failures++
		uploader = nil
		u.logger.Warn("upload chunk failed, retrying",
			zap.String("asset_id", s.AssetID),
			zap.Int("attempt", failures),
			zap.Duration("delay", delay),
			zap.Error(stepErr),
		)
		if err := retry.Sleep(ctx, delay); err != nil {
			return "", merrors.Transfer("upload aborted", err)
		}
	}

	u.logger.Info("upload finished", zap.String("asset_id", s.AssetID), zap.Int64("bytes", total))
	return s.AssetID, nil
}
