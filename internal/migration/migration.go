// Package migration moves recorded sessions from the source provider to the destination host:
// discovery of eligible activities, the download and upload orchestrators, and the
// single-item scheduler that drives them.
package migration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/models"
	"github.com/aura-webinar/session-migrator/internal/source"
	"github.com/aura-webinar/session-migrator/internal/transfer"
)

// Store reads activities and writes their migration sub-record.
type Store interface {
	GetActivity(ctx context.Context, id uuid.UUID) (*models.Activity, error)
	ListEligible(ctx context.Context, now time.Time) ([]models.Activity, error)
	CountEligible(ctx context.Context, now time.Time) (int, error)
	UpdateMigration(ctx context.Context, id uuid.UUID, u models.MigrationUpdate) error
}

// SourceProvider lists an activity's recordings with fresh signed URLs.
type SourceProvider interface {
	ListVideos(ctx context.Context, activityID string) ([]source.Video, error)
}

// Fetcher streams a URL to a local file.
type Fetcher interface {
	Download(ctx context.Context, sourceURL, destPath string, progress transfer.ProgressFunc) (int64, error)
}

// Publisher creates a destination asset and uploads a local file into it.
type Publisher interface {
	Publish(ctx context.Context, localPath, title, collectionID string, progress transfer.ProgressFunc) (string, error)
}

// Archiver keeps a cold copy of a downloaded recording and returns its key.
type Archiver interface {
	Archive(ctx context.Context, localPath, key string) (string, error)
}

// Stage names a pipeline stage in events and metrics.
type Stage string

const (
	StageDownload Stage = "download"
	StageUpload   Stage = "upload"
)

// Event is a progress notification for one video of an activity.
type Event struct {
	ActivityID string              `json:"activity_id"`
	Stage      Stage               `json:"stage"`
	VideoIndex int                 `json:"video_index"`
	VideoCount int                 `json:"video_count"`
	Bytes      int64               `json:"bytes"`
	Total      int64               `json:"total"`
	Status     models.UploadStatus `json:"status,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Notifier receives progress events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// progressStep is the minimum byte advance between two progress events of one video.
const progressStep = 1 << 20

// progressEvents adapts transfer progress for video i of count into events, emitting at most
// one event per percent (or per progressStep) plus the final one.
func progressEvents(n Notifier, activityID string, stage Stage, i, count int) transfer.ProgressFunc {
	last := int64(-1)
	return func(p transfer.Progress) {
		step := int64(progressStep)
		if p.Total/100 > step {
			step = p.Total / 100
		}
		if last >= 0 && p.Bytes-last < step && p.Bytes != p.Total {
			return
		}
		last = p.Bytes
		n.Notify(Event{ActivityID: activityID, Stage: stage, VideoIndex: i, VideoCount: count, Bytes: p.Bytes, Total: p.Total})
	}
}

// checkEligible applies the shared preconditions in order, failing on the first violation.
func checkEligible(a *models.Activity, now time.Time) error {
	switch {
	case a.Deleted:
		return merrors.Validation("activity %s is deleted", a.ID)
	case a.Kind != models.ActivityKindLiveSession:
		return merrors.Validation("activity %s is not a live session (type %s)", a.ID, a.Kind)
	case a.RoomSessionRef == "":
		return merrors.Validation("activity %s has no room session", a.ID)
	case a.WindowEnd == nil || !a.WindowEnd.Before(now):
		return merrors.Validation("activity %s session has not ended yet", a.ID)
	case !a.Migration.RecordingAvailable:
		return merrors.Validation("activity %s recording is not available yet", a.ID)
	}
	return nil
}

// persistTimeout bounds store writes that outlive the run's context.
const persistTimeout = 30 * time.Second

// persistContext detaches ctx from cancellation so an end-of-pass write still lands after
// the pipeline timeout fires.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func strPtr(s string) *string { return &s }

func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, merrors.ErrValidation):
		return "validation"
	case errors.Is(err, merrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, merrors.ErrUpstreamUnavailable):
		return "upstream"
	case errors.Is(err, merrors.ErrTransferTimeout):
		return "timeout"
	case errors.Is(err, merrors.ErrTransferFailure):
		return "transfer"
	}
	return "internal"
}
