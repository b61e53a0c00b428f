package transfer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
)

func TestDownload_WritesFileAndReportsProgress(t *testing.T) {
	payload := strings.Repeat("x", 3*copyBufferSize+17)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "a.mp4")
	var reports []Progress
	n, err := NewDownloader(time.Second*5, nil).Download(context.Background(), srv.URL, dest, func(p Progress) {
		reports = append(reports, p)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err))

	require.NotEmpty(t, reports)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i].Bytes, reports[i-1].Bytes)
	}
	last := reports[len(reports)-1]
	assert.Equal(t, int64(len(payload)), last.Bytes)
	assert.Equal(t, 1.0, last.Fraction())
}

func TestDownload_UnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("chunked body"))
	}))
	defer srv.Close()

	var last Progress
	dest := filepath.Join(t.TempDir(), "b.mp4")
	n, err := NewDownloader(0, nil).Download(context.Background(), srv.URL, dest, func(p Progress) { last = p })
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, -1.0, last.Fraction())
}

func TestDownload_BadStatusIsTransferFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "c.mp4")
	_, err := NewDownloader(time.Second, nil).Download(context.Background(), srv.URL, dest, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, merrors.ErrTransferFailure)
	assert.NotErrorIs(t, err, merrors.ErrTransferTimeout)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_TimeoutKind(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	dest := filepath.Join(t.TempDir(), "d.mp4")
	_, err := NewDownloader(50*time.Millisecond, nil).Download(context.Background(), srv.URL, dest, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, merrors.ErrTransferTimeout)
	assert.Contains(t, err.Error(), "download timeout after 50ms")
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownload_ShortBodyIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, buf, err := hj.Hijack()
		require.NoError(t, err)
		defer conn.Close()
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 50\r\n\r\nonly-ten!!")
		_ = buf.Flush()
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "e.mp4")
	_, err := NewDownloader(time.Second, nil).Download(context.Background(), srv.URL, dest, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, merrors.ErrTransferFailure)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}
