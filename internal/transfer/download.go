package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
)

const copyBufferSize = 256 * 1024

// Downloader streams signed source URLs to local files.
type Downloader struct {
	client  *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewDownloader creates a downloader that gives up after timeout (zero means no limit).
func NewDownloader(timeout time.Duration, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{client: &http.Client{}, timeout: timeout, logger: logger}
}

// WithHTTPClient overrides the HTTP client (tests, proxies).
func (d *Downloader) WithHTTPClient(c *http.Client) *Downloader {
	d.client = c
	return d
}

// Download streams sourceURL into destPath and returns the number of bytes written.
// The body is written to a temporary sibling file and renamed into place once complete,
// so destPath only ever exists with the full payload.
func (d *Downloader) Download(ctx context.Context, sourceURL, destPath string, progress ProgressFunc) (int64, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	n, err := d.download(ctx, sourceURL, destPath, progress)
	if err == nil {
		return n, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || merrors.IsTimeout(err) {
		return 0, merrors.Timeout(fmt.Sprintf("download timeout after %s", d.timeout), err)
	}
	var kindErr *merrors.Error
	if errors.As(err, &kindErr) {
		return 0, err
	}
	return 0, merrors.Transfer("failed to download video", err)
}

func (d *Downloader) download(ctx context.Context, sourceURL, destPath string, progress ProgressFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download status: %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("create destination dir: %w", err)
	}
	partPath := destPath + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer func() { _ = os.Remove(partPath) }()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	w := &progressWriter{w: f, total: total, report: newMonotonic(progress)}
	n, copyErr := io.CopyBuffer(w, resp.Body, make([]byte, copyBufferSize))
	closeErr := f.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("write body: %w", copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close file: %w", closeErr)
	}
	if total > 0 && n != total {
		return 0, fmt.Errorf("short body: got %d of %d bytes", n, total)
	}
	if err := os.Rename(partPath, destPath); err != nil {
		return 0, fmt.Errorf("finalize file: %w", err)
	}
	d.logger.Debug("download finished", zap.String("path", destPath), zap.Int64("bytes", n))
	return n, nil
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	report  *monotonic
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	p.report.report(p.written, p.total)
	return n, err
}
