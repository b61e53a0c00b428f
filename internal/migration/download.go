package migration

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/metrics"
	"github.com/aura-webinar/session-migrator/internal/models"
	"github.com/aura-webinar/session-migrator/internal/staging"
)

// DownloadResult summarizes one download pass.
type DownloadResult struct {
	ActivityID        uuid.UUID            `json:"activity_id"`
	ActivityTitle     string               `json:"activity_title"`
	AlreadyDownloaded bool                 `json:"already_downloaded"`
	Videos            []models.VideoRecord `json:"videos"`
	TotalBytes        int64                `json:"total_size_bytes"`
	Duration          time.Duration        `json:"duration_ns"`
}

// Downloader fetches every recording of an activity into the staging directory.
type Downloader struct {
	store    Store
	source   SourceProvider
	fetcher  Fetcher
	cache    *staging.Cache
	archiver Archiver
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *zap.Logger
}

// NewDownloader creates a download orchestrator.
func NewDownloader(store Store, src SourceProvider, fetcher Fetcher, cache *staging.Cache, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		store:    store,
		source:   src,
		fetcher:  fetcher,
		cache:    cache,
		notifier: nopNotifier{},
		now:      time.Now,
		logger:   logger,
	}
}

// WithArchiver keeps a cold copy of every downloaded file. Archive failures are logged only.
func (d *Downloader) WithArchiver(a Archiver) *Downloader {
	d.archiver = a
	return d
}

// WithNotifier sends progress events to n.
func (d *Downloader) WithNotifier(n Notifier) *Downloader {
	if n != nil {
		d.notifier = n
	}
	return d
}

// WithMetrics records stage and transfer metrics.
func (d *Downloader) WithMetrics(m *metrics.Metrics) *Downloader {
	d.metrics = m
	return d
}

// Download brings every source video of the activity onto local disk and records them in one
// write. If the recorded videos are all still on disk (or already uploaded) nothing is fetched.
// A failed video aborts the pass: files fetched so far are removed and the store keeps status
// downloading without a videos list.
func (d *Downloader) Download(ctx context.Context, activityID uuid.UUID) (*DownloadResult, error) {
	start := d.now()
	res, err := d.download(ctx, activityID)
	outcome := "downloaded"
	switch {
	case err != nil:
		outcome = "failed"
		d.metrics.RecordError("download", errorKind(err))
	case res.AlreadyDownloaded:
		outcome = "already_downloaded"
	}
	d.metrics.RecordStage(string(StageDownload), outcome, d.now().Sub(start).Seconds())
	if res != nil {
		res.Duration = d.now().Sub(start)
	}
	return res, err
}

func (d *Downloader) download(ctx context.Context, activityID uuid.UUID) (*DownloadResult, error) {
	a, err := d.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if err := checkEligible(a, d.now()); err != nil {
		return nil, err
	}
	log := d.logger.With(zap.String("activity_id", activityID.String()))
	res := &DownloadResult{ActivityID: a.ID, ActivityTitle: a.Title}

	if existing := a.Migration.Videos; len(existing) > 0 && d.allOnDisk(existing) {
		res.AlreadyDownloaded = true
		res.Videos = existing
		res.TotalBytes = totalSize(existing)
		log.Info("all videos already downloaded", zap.Int("videos", len(existing)))
		return res, nil
	}
	if err := d.cache.Ensure(); err != nil {
		return nil, err
	}

	if err := d.store.UpdateMigration(ctx, a.ID, models.MigrationUpdate{Status: models.UploadStatusDownloading}); err != nil {
		return nil, fmt.Errorf("mark downloading: %w", err)
	}

	list, err := d.source.ListVideos(ctx, a.ID.String())
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, merrors.Validation("no recording videos found for activity %s", a.ID)
	}
	log.Info("downloading videos", zap.Int("videos", len(list)))

	var (
		records []models.VideoRecord
		fetched []string
	)
	for i, v := range list {
		rec := models.VideoRecord{
			SourceSessionID: v.SessionID,
			SourceAssetID:   v.AssetID,
			DurationSeconds: v.Duration,
			SizeBytes:       v.Size,
		}
		prior, hasPrior := findSource(a.Migration.Videos, rec)
		if hasPrior && prior.Uploaded() {
			records = append(records, prior)
			log.Info("video already uploaded, keeping record", zap.Int("video_index", i+1), zap.String("asset_id", v.AssetID))
			continue
		}

		dest := d.cache.Path(staging.FileName(a.ID.String(), v.SessionID, v.AssetID, d.now()))
		n, err := d.fetcher.Download(ctx, v.DownloadURL, dest, progressEvents(d.notifier, a.ID.String(), StageDownload, i+1, len(list)))
		if err == nil {
			err = d.verify(dest, n)
		}
		if err != nil {
			d.metrics.RecordVideo(string(StageDownload), "failure", 0)
			d.discard(append(fetched, dest))
			d.notifier.Notify(Event{ActivityID: a.ID.String(), Stage: StageDownload, VideoIndex: i + 1, VideoCount: len(list), Status: models.UploadStatusDownloading, Error: err.Error()})
			log.Error("video download failed", zap.Int("video_index", i+1), zap.Error(err))
			return nil, fmt.Errorf("download video %d of %d: %w", i+1, len(list), err)
		}
		fetched = append(fetched, dest)
		d.metrics.RecordVideo(string(StageDownload), "success", n)

		rec.LocalPath = dest
		if rec.SizeBytes <= 0 {
			rec.SizeBytes = n
		}
		downloadedAt := d.now()
		if hasPrior && prior.DownloadedAt != nil {
			downloadedAt = *prior.DownloadedAt
		}
		rec.DownloadedAt = &downloadedAt
		if d.archiver != nil {
			key, err := d.archiver.Archive(ctx, dest, path.Join("recordings", a.ID.String(), path.Base(dest)))
			if err != nil {
				log.Warn("archive copy failed", zap.Int("video_index", i+1), zap.Error(err))
			} else {
				rec.ArchiveKey = key
			}
		}
		records = append(records, rec)
		log.Info("video downloaded", zap.Int("video_index", i+1), zap.String("path", dest), zap.Int64("bytes", n))
	}

	if err := d.store.UpdateMigration(ctx, a.ID, models.MigrationUpdate{Status: models.UploadStatusDownloaded, Videos: records}); err != nil {
		d.discard(fetched)
		return nil, fmt.Errorf("save downloaded videos: %w", err)
	}
	d.notifier.Notify(Event{ActivityID: a.ID.String(), Stage: StageDownload, VideoCount: len(records), Status: models.UploadStatusDownloaded})

	res.Videos = records
	res.TotalBytes = totalSize(records)
	log.Info("all videos downloaded", zap.Int("videos", len(records)), zap.Int64("bytes", res.TotalBytes))
	return res, nil
}

// verify checks the file on disk holds exactly the bytes the transfer reported.
func (d *Downloader) verify(p string, written int64) error {
	size, err := d.cache.Size(p)
	if err != nil {
		return merrors.Transfer("downloaded file missing", err)
	}
	if size != written {
		return merrors.Transfer(fmt.Sprintf("downloaded file size mismatch: %d on disk, %d written", size, written), nil)
	}
	return nil
}

// allOnDisk reports whether every video is uploaded or still present locally.
func (d *Downloader) allOnDisk(videos []models.VideoRecord) bool {
	for _, v := range videos {
		if v.Uploaded() {
			continue
		}
		if !d.cache.Exists(v.LocalPath) {
			return false
		}
	}
	return true
}

func (d *Downloader) discard(paths []string) {
	for _, p := range paths {
		if err := d.cache.Remove(p); err != nil {
			d.logger.Warn("failed to remove partial download", zap.String("path", p), zap.Error(err))
		}
	}
}

func findSource(videos []models.VideoRecord, rec models.VideoRecord) (models.VideoRecord, bool) {
	for _, v := range videos {
		if v.SameSource(rec) {
			return v, true
		}
	}
	return models.VideoRecord{}, false
}

func totalSize(videos []models.VideoRecord) int64 {
	var n int64
	for _, v := range videos {
		n += v.SizeBytes
	}
	return n
}
