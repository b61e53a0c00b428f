package migration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/session-migrator/internal/models"
	"github.com/aura-webinar/session-migrator/internal/source"
	"github.com/aura-webinar/session-migrator/internal/staging"
	"github.com/aura-webinar/session-migrator/internal/testsupport"
	"github.com/aura-webinar/session-migrator/internal/transfer"
)

type fakeSource struct {
	mu     sync.Mutex
	videos map[string][]source.Video
	err    error
	calls  []string
}

func (f *fakeSource) ListVideos(ctx context.Context, activityID string) ([]source.Video, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, activityID)
	if f.err != nil {
		return nil, f.err
	}
	return f.videos[activityID], nil
}

func (f *fakeSource) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeFetcher struct {
	mu     sync.Mutex
	failOn map[string]error
	calls  []string
}

func (f *fakeFetcher) Download(ctx context.Context, sourceURL, destPath string, progress transfer.ProgressFunc) (int64, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sourceURL)
	err := f.failOn[sourceURL]
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	body := []byte("video:" + sourceURL)
	if err := os.WriteFile(destPath, body, 0o644); err != nil {
		return 0, err
	}
	if progress != nil {
		progress(transfer.Progress{Bytes: int64(len(body)), Total: int64(len(body))})
	}
	return int64(len(body)), nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type publishCall struct {
	path, title, collection string
}

type fakePublisher struct {
	mu     sync.Mutex
	failOn map[string]error // keyed by title
	calls  []publishCall
}

func (f *fakePublisher) Publish(ctx context.Context, localPath, title, collectionID string, progress transfer.ProgressFunc) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, publishCall{path: localPath, title: title, collection: collectionID})
	if err := f.failOn[title]; err != nil {
		return "", err
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	return fmt.Sprintf("bunny-%d", len(f.calls)), nil
}

func (f *fakePublisher) Calls() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.calls...)
}

type fakeArchiver struct {
	err  error
	keys []string
}

func (f *fakeArchiver) Archive(ctx context.Context, localPath, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return key, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingNotifier) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type harness struct {
	store      *testsupport.MemoryStore
	source     *fakeSource
	fetcher    *fakeFetcher
	publisher  *fakePublisher
	notifier   *recordingNotifier
	cache      *staging.Cache
	discovery  *Discovery
	downloader *Downloader
	uploader   *Uploader
	scheduler  *Scheduler
	now        time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cache, err := staging.New(t.TempDir(), nil)
	require.NoError(t, err)
	h := &harness{
		store:     testsupport.NewMemoryStore(),
		source:    &fakeSource{videos: map[string][]source.Video{}},
		fetcher:   &fakeFetcher{failOn: map[string]error{}},
		publisher: &fakePublisher{failOn: map[string]error{}},
		notifier:  &recordingNotifier{},
		cache:     cache,
		now:       time.Now(),
	}
	h.discovery = NewDiscovery(h.store, nil, nil)
	h.downloader = NewDownloader(h.store, h.source, h.fetcher, cache, nil).WithNotifier(h.notifier)
	h.uploader = NewUploader(h.store, h.publisher, cache, nil).WithNotifier(h.notifier)
	h.scheduler = NewScheduler(h.store, h.discovery, h.downloader, h.uploader, time.Minute, nil)
	return h
}

// eligible stores a live session that ended an hour ago, created at createdAt, with n recordings.
func (h *harness) eligible(title string, createdAt time.Time, n int) models.Activity {
	end := h.now.Add(-time.Hour)
	a := models.Activity{
		ID:             uuid.New(),
		WorkGroupID:    uuid.New(),
		Kind:           models.ActivityKindLiveSession,
		Title:          title,
		RoomSessionRef: "room-1",
		WindowEnd:      &end,
		CollectionRef:  "col-1",
		Migration: models.Migration{
			RecordingAvailable: true,
			UploadStatus:       models.UploadStatusPending,
		},
		CreatedAt: createdAt,
	}
	h.store.Put(a)
	var videos []source.Video
	for i := 1; i <= n; i++ {
		videos = append(videos, source.Video{
			SessionID:   "sess-1",
			AssetID:     fmt.Sprintf("asset-%d", i),
			DownloadURL: fmt.Sprintf("https://cdn.example/%s/%d", a.ID, i),
			Duration:    float64(60 * i),
		})
	}
	h.source.videos[a.ID.String()] = videos
	return a
}

func (h *harness) get(t *testing.T, id uuid.UUID) models.Activity {
	t.Helper()
	a, ok := h.store.Get(id)
	require.True(t, ok)
	return a
}

func (h *harness) stagedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.cache.Dir())
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".part") {
			names = append(names, e.Name())
		}
	}
	return names
}

// cancellingPublisher publishes the first `after` videos, then cancels the run's context
// and fails every later video the way an expired pipeline timeout does.
type cancellingPublisher struct {
	*fakePublisher
	cancel context.CancelFunc
	after  int
}

func (p *cancellingPublisher) Publish(ctx context.Context, localPath, title, collectionID string, progress transfer.ProgressFunc) (string, error) {
	if len(p.Calls()) >= p.after {
		p.cancel()
		return "", fmt.Errorf("upload aborted: %w", ctx.Err())
	}
	return p.fakePublisher.Publish(ctx, localPath, title, collectionID, progress)
}
