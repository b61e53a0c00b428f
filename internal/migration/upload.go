package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/metrics"
	"github.com/aura-webinar/session-migrator/internal/models"
	"github.com/aura-webinar/session-migrator/internal/staging"
)

// UploadedVideo is a video that reached the destination host.
type UploadedVideo struct {
	Index              int    `json:"index"`
	SourceAssetID      string `json:"asset_id"`
	DestinationAssetID string `json:"bunny_video_id"`
	Skipped            bool   `json:"skipped,omitempty"`
}

// FailedVideo is a video whose upload failed in this pass.
type FailedVideo struct {
	Index         int    `json:"index"`
	SourceAssetID string `json:"asset_id"`
	Error         string `json:"error"`
}

// UploadResult summarizes one upload pass.
type UploadResult struct {
	ActivityID      uuid.UUID            `json:"activity_id"`
	ActivityTitle   string               `json:"activity_title"`
	Status          models.UploadStatus  `json:"upload_status"`
	AlreadyUploaded bool                 `json:"already_uploaded"`
	Uploaded        []UploadedVideo      `json:"uploaded"`
	Failed          []FailedVideo        `json:"failed"`
	Videos          []models.VideoRecord `json:"videos"`
	Duration        time.Duration        `json:"duration_ns"`
}

// Partial reports whether some but not all videos made it.
func (r *UploadResult) Partial() bool { return r.Status == models.UploadStatusPartial }

// outcome is the tagged result of one video in an upload pass.
type outcome struct {
	index  int
	record models.VideoRecord
	err    error
	skip   bool
}

// Uploader publishes an activity's downloaded videos to the destination host.
type Uploader struct {
	store     Store
	publisher Publisher
	cache     *staging.Cache
	notifier  Notifier
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *zap.Logger
}

// NewUploader creates an upload orchestrator.
func NewUploader(store Store, publisher Publisher, cache *staging.Cache, logger *zap.Logger) *Uploader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{store: store, publisher: publisher, cache: cache, notifier: nopNotifier{}, now: time.Now, logger: logger}
}

// WithNotifier sends progress events to n.
func (u *Uploader) WithNotifier(n Notifier) *Uploader {
	if n != nil {
		u.notifier = n
	}
	return u
}

// WithMetrics records stage and transfer metrics.
func (u *Uploader) WithMetrics(m *metrics.Metrics) *Uploader {
	u.metrics = m
	return u
}

// Upload publishes every video without a destination asset, one at a time. A failed video
// does not stop the others; the pass ends with a single write of the videos and the aggregate
// status (completed or partial). Errors outside the per-video loop mark the activity failed.
func (u *Uploader) Upload(ctx context.Context, activityID uuid.UUID) (*UploadResult, error) {
	start := u.now()
	res, err := u.upload(ctx, activityID)
	label := "failed"
	switch {
	case err != nil:
		u.metrics.RecordError("upload", errorKind(err))
	case res.AlreadyUploaded:
		label = "already_uploaded"
	default:
		label = string(res.Status)
	}
	u.metrics.RecordStage(string(StageUpload), label, u.now().Sub(start).Seconds())
	if res != nil {
		res.Duration = u.now().Sub(start)
	}
	return res, err
}

func (u *Uploader) upload(ctx context.Context, activityID uuid.UUID) (*UploadResult, error) {
	a, err := u.store.GetActivity(ctx, activityID)
	if err != nil {
		if errors.Is(err, merrors.ErrNotFound) {
			return nil, err
		}
		return nil, u.fail(ctx, activityID, err)
	}
	if err := checkUploadable(a, u.now()); err != nil {
		if a.Migration.Uploaded {
			// a completed activity keeps its terminal state
			return nil, err
		}
		return nil, u.fail(ctx, a.ID, err)
	}
	log := u.logger.With(zap.String("activity_id", a.ID.String()))
	res := &UploadResult{ActivityID: a.ID, ActivityTitle: a.Title}

	if a.Migration.Uploaded && a.Migration.AllUploaded() {
		res.AlreadyUploaded = true
		res.Status = models.UploadStatusCompleted
		res.Videos = a.Migration.Videos
		for i, v := range a.Migration.Videos {
			res.Uploaded = append(res.Uploaded, UploadedVideo{Index: i + 1, SourceAssetID: v.SourceAssetID, DestinationAssetID: v.DestinationAssetID, Skipped: true})
		}
		log.Info("all videos already uploaded")
		return res, nil
	}

	if err := u.store.UpdateMigration(ctx, a.ID, models.MigrationUpdate{Status: models.UploadStatusUploading}); err != nil {
		return nil, u.fail(ctx, a.ID, fmt.Errorf("mark uploading: %w", err))
	}
	u.notifier.Notify(Event{ActivityID: a.ID.String(), Stage: StageUpload, VideoCount: len(a.Migration.Videos), Status: models.UploadStatusUploading})

	outcomes := make([]outcome, 0, len(a.Migration.Videos))
	for i, v := range a.Migration.Videos {
		o := u.uploadOne(ctx, a, i, v)
		if o.err != nil {
			log.Error("video upload failed", zap.Int("video_index", i+1), zap.Error(o.err))
		}
		outcomes = append(outcomes, o)
	}

	fold(res, outcomes)
	update := models.MigrationUpdate{Status: res.Status, Videos: res.Videos, LastError: strPtr("")}
	if len(res.Failed) > 0 {
		update.LastError = strPtr(fmt.Sprintf("failed to upload %d video(s)", len(res.Failed)))
	}
	// published videos already lost their local files; their asset ids must be stored
	wctx, cancel := persistContext(ctx)
	defer cancel()
	if err := u.store.UpdateMigration(wctx, a.ID, update); err != nil {
		return nil, fmt.Errorf("save upload results: %w", err)
	}
	u.notifier.Notify(Event{ActivityID: a.ID.String(), Stage: StageUpload, VideoCount: len(res.Videos), Status: res.Status, Error: *update.LastError})

	log.Info("upload pass finished",
		zap.String("status", string(res.Status)),
		zap.Int("uploaded", len(res.Uploaded)),
		zap.Int("failed", len(res.Failed)),
	)
	return res, nil
}

// uploadOne handles a single video. Any error is returned in the outcome, never raised.
func (u *Uploader) uploadOne(ctx context.Context, a *models.Activity, i int, v models.VideoRecord) outcome {
	o := outcome{index: i + 1, record: v}
	if v.Uploaded() {
		o.skip = true
		return o
	}
	localPath := u.cache.Resolve(v.LocalPath)
	if !u.cache.Exists(localPath) {
		o.err = merrors.Validation("video file not found: %s", localPath)
		u.metrics.RecordVideo(string(StageUpload), "missing", 0)
		return o
	}

	title := fmt.Sprintf("%s - Part %d", a.Title, i+1)
	count := len(a.Migration.Videos)
	assetID, err := u.publisher.Publish(ctx, localPath, title, a.CollectionRef, progressEvents(u.notifier, a.ID.String(), StageUpload, i+1, count))
	if err != nil {
		o.err = err
		u.metrics.RecordVideo(string(StageUpload), "failure", 0)
		u.notifier.Notify(Event{ActivityID: a.ID.String(), Stage: StageUpload, VideoIndex: i + 1, VideoCount: count, Error: err.Error()})
		return o
	}

	uploadedAt := u.now()
	o.record.DestinationAssetID = assetID
	o.record.UploadedAt = &uploadedAt
	u.metrics.RecordVideo(string(StageUpload), "success", v.SizeBytes)
	if err := u.cache.Remove(localPath); err != nil {
		u.logger.Warn("failed to delete local file", zap.String("path", localPath), zap.Error(err))
	}
	return o
}

// fold turns per-video outcomes into the aggregate result.
func fold(res *UploadResult, outcomes []outcome) {
	res.Videos = make([]models.VideoRecord, 0, len(outcomes))
	for _, o := range outcomes {
		res.Videos = append(res.Videos, o.record)
		if o.err != nil {
			res.Failed = append(res.Failed, FailedVideo{Index: o.index, SourceAssetID: o.record.SourceAssetID, Error: o.err.Error()})
			continue
		}
		res.Uploaded = append(res.Uploaded, UploadedVideo{
			Index:              o.index,
			SourceAssetID:      o.record.SourceAssetID,
			DestinationAssetID: o.record.DestinationAssetID,
			Skipped:            o.skip,
		})
	}
	res.Status = models.UploadStatusCompleted
	if len(res.Failed) > 0 {
		res.Status = models.UploadStatusPartial
	}
}

// fail records a failed pass and returns cause. If the store write fails too, both are returned.
func (u *Uploader) fail(ctx context.Context, id uuid.UUID, cause error) error {
	msg := cause.Error()
	wctx, cancel := persistContext(ctx)
	defer cancel()
	if err := u.store.UpdateMigration(wctx, id, models.MigrationUpdate{Status: models.UploadStatusFailed, LastError: &msg}); err != nil {
		u.logger.Error("failed to record upload failure", zap.String("activity_id", id.String()), zap.Error(err))
		if errors.Is(err, merrors.ErrNotFound) {
			return cause
		}
		return errors.Join(cause, fmt.Errorf("record failure: %w", err))
	}
	u.notifier.Notify(Event{ActivityID: id.String(), Stage: StageUpload, Status: models.UploadStatusFailed, Error: msg})
	return cause
}

func checkUploadable(a *models.Activity, now time.Time) error {
	if err := checkEligible(a, now); err != nil {
		return err
	}
	if len(a.Migration.Videos) == 0 {
		return merrors.Validation("no videos downloaded yet, download first")
	}
	if a.CollectionRef == "" {
		return merrors.Validation("work group of activity %s has no destination collection", a.ID)
	}
	return nil
}
