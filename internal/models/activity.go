package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityKind is the closed set of course activity types.
type ActivityKind string

const (
	ActivityKindAssignment    ActivityKind = "assignment"
	ActivityKindQuiz          ActivityKind = "quiz"
	ActivityKindVideo         ActivityKind = "video"
	ActivityKindMaterial      ActivityKind = "material"
	ActivityKindTimeBoundQuiz ActivityKind = "time_bound_quiz"
	ActivityKindLiveSession   ActivityKind = "live_session"
)

// UploadStatus represents the migration lifecycle of an activity.
type UploadStatus string

const (
	UploadStatusPending     UploadStatus = "pending"
	UploadStatusDownloading UploadStatus = "downloading"
	UploadStatusDownloaded  UploadStatus = "downloaded"
	UploadStatusUploading   UploadStatus = "uploading"
	UploadStatusCompleted   UploadStatus = "completed"
	UploadStatusPartial     UploadStatus = "partial"
	UploadStatusFailed      UploadStatus = "failed"
)

// Terminal reports whether s ends an upload pass.
func (s UploadStatus) Terminal() bool {
	return s == UploadStatusCompleted || s == UploadStatusPartial || s == UploadStatusFailed
}

// WorkGroup owns activities and supplies the destination collection (a course).
type WorkGroup struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	CollectionRef string    `json:"collection_id,omitempty"`
}

// VideoRecord is one source recording and its migration state.
type VideoRecord struct {
	SourceSessionID    string     `json:"session_id"`
	SourceAssetID      string     `json:"asset_id"`
	LocalPath          string     `json:"local_file_path,omitempty"`
	DestinationAssetID string     `json:"bunny_video_id,omitempty"`
	ArchiveKey         string     `json:"archive_key,omitempty"`
	DurationSeconds    float64    `json:"duration"`
	SizeBytes          int64      `json:"size"`
	DownloadedAt       *time.Time `json:"downloaded_at,omitempty"`
	UploadedAt         *time.Time `json:"uploaded_at,omitempty"`
}

// Uploaded reports whether the video reached the destination host.
func (v VideoRecord) Uploaded() bool { return v.DestinationAssetID != "" }

// SameSource reports whether v and o describe the same source recording.
func (v VideoRecord) SameSource(o VideoRecord) bool {
	return v.SourceSessionID == o.SourceSessionID && v.SourceAssetID == o.SourceAssetID
}

// Migration is the pipeline-owned part of an activity.
type Migration struct {
	RecordingAvailable bool          `json:"recording_available"`
	Videos             []VideoRecord `json:"videos"`
	UploadStatus       UploadStatus  `json:"upload_status"`
	Uploaded           bool          `json:"is_uploaded"`
	LastAttemptAt      *time.Time    `json:"last_attempt_at,omitempty"`
	AttemptCount       int           `json:"attempt_count"`
	LastError          string        `json:"last_error,omitempty"`
}

// AllUploaded reports whether there is at least one video and every video has a destination asset.
func (m Migration) AllUploaded() bool {
	if len(m.Videos) == 0 {
		return false
	}
	for _, v := range m.Videos {
		if !v.Uploaded() {
			return false
		}
	}
	return true
}

// Activity is one recorded live session awaiting migration.
type Activity struct {
	ID             uuid.UUID    `json:"id"`
	WorkGroupID    uuid.UUID    `json:"course_id"`
	Kind           ActivityKind `json:"type"`
	Title          string       `json:"title"`
	RoomSessionRef string       `json:"room_id,omitempty"`
	WindowStart    *time.Time   `json:"start_time,omitempty"`
	WindowEnd      *time.Time   `json:"end_time,omitempty"`
	Deleted        bool         `json:"is_deleted"`
	CollectionRef  string       `json:"collection_id,omitempty"`
	Migration      Migration    `json:"migration"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Eligible reports whether the activity qualifies for discovery at now.
func (a Activity) Eligible(now time.Time) bool {
	return a.Kind == ActivityKindLiveSession &&
		a.Migration.RecordingAvailable &&
		!a.Migration.Uploaded &&
		a.RoomSessionRef != "" &&
		!a.Deleted &&
		a.WindowEnd != nil && a.WindowEnd.Before(now)
}

// MigrationUpdate is a partial write of the migration sub-record. Status is always written;
// nil fields are left untouched. Every update stamps the attempt time and increments the
// attempt counter, and recomputes Uploaded from Status.
type MigrationUpdate struct {
	Status    UploadStatus
	Videos    []VideoRecord
	LastError *string
}

// UploadedFlag is the derived uploaded flag written alongside Status.
func (u MigrationUpdate) UploadedFlag() bool { return u.Status == UploadStatusCompleted }
