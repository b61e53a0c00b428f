package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
)

// RunResult summarizes one scheduler invocation.
type RunResult struct {
	Idle          bool            `json:"idle"`
	ActivityID    uuid.UUID       `json:"activity_id"`
	ActivityTitle string          `json:"activity_title,omitempty"`
	Download      *DownloadResult `json:"download,omitempty"`
	Upload        *UploadResult   `json:"upload,omitempty"`
	Remaining     int             `json:"remaining_uploads"`
}

// Scheduler drives at most one activity through download and upload per invocation.
// It holds no lock: callers serialize invocations.
type Scheduler struct {
	discovery       *Discovery
	downloader      *Downloader
	uploader        *Uploader
	store           Store
	pipelineTimeout time.Duration
	logger          *zap.Logger
}

// NewScheduler creates a scheduler. pipelineTimeout bounds each periodic run (zero means none).
func NewScheduler(store Store, discovery *Discovery, downloader *Downloader, uploader *Uploader, pipelineTimeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		discovery:       discovery,
		downloader:      downloader,
		uploader:        uploader,
		store:           store,
		pipelineTimeout: pipelineTimeout,
		logger:          logger,
	}
}

// ProcessNext migrates the oldest eligible activity, if any. Errors reach the caller.
func (s *Scheduler) ProcessNext(ctx context.Context) (*RunResult, error) {
	list, err := s.discovery.ListEligible(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return &RunResult{Idle: true}, nil
	}
	next := list[0]
	res := &RunResult{ActivityID: next.ID, ActivityTitle: next.Title, Remaining: len(list) - 1}
	s.logger.Info("processing next activity",
		zap.String("activity_id", next.ID.String()),
		zap.String("title", next.Title),
		zap.Int("remaining", res.Remaining),
	)

	if res.Download, err = s.downloader.Download(ctx, next.ID); err != nil {
		return res, fmt.Errorf("download activity %s: %w", next.ID, err)
	}
	if res.Upload, err = s.uploader.Upload(ctx, next.ID); err != nil {
		return res, fmt.Errorf("upload activity %s: %w", next.ID, err)
	}
	return res, nil
}

// ProcessActivity migrates one named activity. Download is skipped when videos are recorded.
func (s *Scheduler) ProcessActivity(ctx context.Context, id uuid.UUID) (*RunResult, error) {
	a, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &RunResult{ActivityID: a.ID, ActivityTitle: a.Title}
	if len(a.Migration.Videos) == 0 {
		if res.Download, err = s.downloader.Download(ctx, id); err != nil {
			return res, fmt.Errorf("download activity %s: %w", id, err)
		}
	}
	if res.Upload, err = s.uploader.Upload(ctx, id); err != nil {
		return res, fmt.Errorf("upload activity %s: %w", id, err)
	}
	return res, nil
}

// Run calls ProcessNext now and then every interval until ctx is done. The next tick waits for
// the current run, so runs never overlap. Each run's error is logged, not returned.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	s.logger.Info("auto-processor started", zap.Duration("interval", interval))
	s.runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-processor stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.pipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.pipelineTimeout)
		defer cancel()
	}
	res, err := s.ProcessNext(ctx)
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		s.logger.Info("run cancelled")
	case err != nil:
		fields := []zap.Field{zap.Error(err)}
		if res != nil {
			fields = append(fields, zap.String("activity_id", res.ActivityID.String()))
		}
		if errors.Is(err, merrors.ErrValidation) {
			s.logger.Warn("run skipped activity", fields...)
		} else {
			s.logger.Error("run failed", fields...)
		}
	case res.Idle:
		s.logger.Info("no pending uploads")
	default:
		s.logger.Info("run finished",
			zap.String("activity_id", res.ActivityID.String()),
			zap.String("status", string(res.Upload.Status)),
			zap.Int("remaining", res.Remaining),
		)
	}
}
