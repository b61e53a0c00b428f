// Package activities persists live-session activities and their migration state, and exposes
// the migration pipeline over HTTP.
package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/models"
)

const activityColumns = `a.id, a.work_group_id, a.kind, a.title, COALESCE(a.room_session_ref,''), a.window_start, a.window_end,
	a.is_deleted, COALESCE(w.collection_ref,''), a.recording_available, a.videos, a.upload_status, a.is_uploaded,
	a.last_attempt_at, a.attempt_count, COALESCE(a.last_error,''), a.created_at, a.updated_at`

const eligibleFilter = `a.kind = 'live_session'
	AND a.recording_available = TRUE
	AND a.is_uploaded IS NOT TRUE
	AND a.room_session_ref IS NOT NULL AND a.room_session_ref <> ''
	AND a.is_deleted = FALSE
	AND a.window_end < $1`

// Repository handles activity persistence. It only ever writes migration columns.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an activities repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetActivity returns an activity with its work group's collection reference.
func (r *Repository) GetActivity(ctx context.Context, id uuid.UUID) (*models.Activity, error) {
	q := `SELECT ` + activityColumns + `
		FROM activities a LEFT JOIN work_groups w ON w.id = a.work_group_id
		WHERE a.id = $1`
	a, err := scanActivity(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, merrors.NotFound("activity", id.String())
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return a, nil
}

// ListEligible returns activities awaiting migration at now, oldest first.
func (r *Repository) ListEligible(ctx context.Context, now time.Time) ([]models.Activity, error) {
	q := `SELECT ` + activityColumns + `
		FROM activities a LEFT JOIN work_groups w ON w.id = a.work_group_id
		WHERE ` + eligibleFilter + `
		ORDER BY a.created_at ASC, a.id ASC`
	rows, err := r.pool.Query(ctx, q, now)
	if err != nil {
		return nil, fmt.Errorf("list eligible: %w", err)
	}
	defer rows.Close()
	list := []models.Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// CountEligible returns how many activities await migration at now.
func (r *Repository) CountEligible(ctx context.Context, now time.Time) (int, error) {
	q := `SELECT COUNT(*) FROM activities a WHERE ` + eligibleFilter
	var n int
	if err := r.pool.QueryRow(ctx, q, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("count eligible: %w", err)
	}
	return n, nil
}

// UpdateMigration writes u in one statement. The attempt counter is incremented in SQL so
// concurrent writers never lose an attempt.
func (r *Repository) UpdateMigration(ctx context.Context, id uuid.UUID, u models.MigrationUpdate) error {
	var videos any
	if u.Videos != nil {
		raw, err := json.Marshal(u.Videos)
		if err != nil {
			return fmt.Errorf("marshal videos: %w", err)
		}
		videos = string(raw)
	}
	var lastError any
	if u.LastError != nil && *u.LastError != "" {
		lastError = *u.LastError
	}
	const q = `UPDATE activities SET
		upload_status = $2,
		is_uploaded = $3,
		videos = COALESCE($4::jsonb, videos),
		last_error = CASE WHEN $5 THEN $6::text ELSE last_error END,
		attempt_count = attempt_count + 1,
		last_attempt_at = NOW(),
		updated_at = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, string(u.Status), u.UploadedFlag(), videos, u.LastError != nil, lastError)
	if err != nil {
		return fmt.Errorf("update migration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return merrors.NotFound("activity", id.String())
	}
	return nil
}

func scanActivity(row pgx.Row) (*models.Activity, error) {
	var (
		a      models.Activity
		kind   string
		status string
		videos []byte
	)
	err := row.Scan(&a.ID, &a.WorkGroupID, &kind, &a.Title, &a.RoomSessionRef, &a.WindowStart, &a.WindowEnd,
		&a.Deleted, &a.CollectionRef, &a.Migration.RecordingAvailable, &videos, &status, &a.Migration.Uploaded,
		&a.Migration.LastAttemptAt, &a.Migration.AttemptCount, &a.Migration.LastError, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = models.ActivityKind(kind)
	a.Migration.UploadStatus = models.UploadStatus(status)
	if len(videos) > 0 {
		if err := json.Unmarshal(videos, &a.Migration.Videos); err != nil {
			return nil, fmt.Errorf("decode videos: %w", err)
		}
	}
	return &a, nil
}
