package migration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/models"
)

func TestDiscovery_EligibilityFilter(t *testing.T) {
	h := newHarness(t)
	ok := h.eligible("ok", h.now.Add(-time.Hour), 1)

	future := h.eligible("future", h.now.Add(-2*time.Hour), 1)
	end := h.now.Add(time.Hour)
	future.WindowEnd = &end
	h.store.Put(future)

	deleted := h.eligible("deleted", h.now.Add(-3*time.Hour), 1)
	deleted.Deleted = true
	h.store.Put(deleted)

	unavailable := h.eligible("unavailable", h.now.Add(-4*time.Hour), 1)
	unavailable.Migration.RecordingAvailable = false
	h.store.Put(unavailable)

	uploaded := h.eligible("uploaded", h.now.Add(-5*time.Hour), 1)
	uploaded.Migration.Uploaded = true
	h.store.Put(uploaded)

	list, err := h.discovery.ListEligible(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ok.ID, list[0].ID)

	n, err := h.discovery.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDiscovery_EmptyIsNotError(t *testing.T) {
	h := newHarness(t)
	list, err := h.discovery.ListEligible(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestDiscovery_OrderAndProcessNextPicksOldest(t *testing.T) {
	h := newHarness(t)
	t1, t2, t3 := h.now.Add(-3*time.Hour), h.now.Add(-2*time.Hour), h.now.Add(-time.Hour)
	a3 := h.eligible("third", t3, 1)
	a1 := h.eligible("first", t1, 1)
	a2 := h.eligible("second", t2, 1)

	list, err := h.discovery.ListEligible(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []uuid.UUID{a1.ID, a2.ID, a3.ID}, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID})

	res, err := h.scheduler.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a1.ID, res.ActivityID)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, []string{a1.ID.String()}, h.source.Calls(), "exactly one activity per invocation")
	assert.Equal(t, models.UploadStatusCompleted, res.Upload.Status)

	stored := h.get(t, a1.ID)
	assert.True(t, stored.Migration.Uploaded)
	assert.Equal(t, models.UploadStatusPending, h.get(t, a2.ID).Migration.UploadStatus)

	res, err = h.scheduler.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a2.ID, res.ActivityID)
	assert.Equal(t, 1, res.Remaining)
}

func TestProcessNext_Idle(t *testing.T) {
	h := newHarness(t)
	res, err := h.scheduler.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Idle)
	assert.Zero(t, res.Remaining)
	assert.Empty(t, h.store.Updates())
}

func TestProcessNext_SurfacesErrors(t *testing.T) {
	h := newHarness(t)
	a := h.eligible("broken", h.now, 1)
	h.source.err = merrors.NewAPIError("recordings", 401, "authentication failed")

	res, err := h.scheduler.ProcessNext(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, merrors.ErrUpstreamUnavailable)
	assert.Equal(t, a.ID, res.ActivityID)
	assert.Nil(t, res.Upload)
}

func TestProcessActivity_SkipsDownloadWhenVideosRecorded(t *testing.T) {
	h := newHarness(t)
	a := h.downloaded(t, "Week 1", 2)
	fetches := h.fetcher.Calls()
	sourceCalls := len(h.source.Calls())

	res, err := h.scheduler.ProcessActivity(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Download)
	require.NotNil(t, res.Upload)
	assert.Equal(t, models.UploadStatusCompleted, res.Upload.Status)
	assert.Equal(t, fetches, h.fetcher.Calls())
	assert.Equal(t, sourceCalls, len(h.source.Calls()))
}

func TestProcessActivity_RunsBothStages(t *testing.T) {
	h := newHarness(t)
	a := h.eligible("Week 1", h.now, 1)

	res, err := h.scheduler.ProcessActivity(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Download)
	require.NotNil(t, res.Upload)
	assert.Equal(t, []models.UploadStatus{
		models.UploadStatusDownloading, models.UploadStatusDownloaded,
		models.UploadStatusUploading, models.UploadStatusCompleted,
	}, h.store.Statuses())
}

func TestProcessActivity_NotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.scheduler.ProcessActivity(context.Background(), uuid.New())
	assert.ErrorIs(t, err, merrors.ErrNotFound)
}

func TestRun_ProcessesImmediatelyAndStops(t *testing.T) {
	h := newHarness(t)
	a := h.eligible("Week 1", h.now.Add(-time.Hour), 1)
	b := h.eligible("Week 2", h.now, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.scheduler.Run(ctx, 20*time.Millisecond) }()

	require.Eventually(t, func() bool {
		x, _ := h.store.Get(a.ID)
		y, _ := h.store.Get(b.ID)
		return x.Migration.Uploaded && y.Migration.Uploaded
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, []string{a.ID.String(), b.ID.String()}, h.source.Calls())
}
