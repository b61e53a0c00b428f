package testsupport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/models"
)

// MemoryStore is an in-memory activity store with the same write semantics as the
// PostgreSQL repository. It records every update for assertions.
type MemoryStore struct {
	mu         sync.Mutex
	activities map[uuid.UUID]*models.Activity
	updates    []Update
	failWrites error
	failReads  error
	now        func() time.Time
}

// Update is one recorded UpdateMigration call.
type Update struct {
	ID     uuid.UUID
	Update models.MigrationUpdate
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{activities: make(map[uuid.UUID]*models.Activity), now: time.Now}
}

// Put stores a copy of a, replacing any activity with the same id.
func (s *MemoryStore) Put(a models.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := clone(a)
	s.activities[a.ID] = &c
}

// Get returns a copy of the stored activity.
func (s *MemoryStore) Get(id uuid.UUID) (models.Activity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[id]
	if !ok {
		return models.Activity{}, false
	}
	return clone(*a), true
}

// Updates returns every write so far, in order.
func (s *MemoryStore) Updates() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.updates...)
}

// Statuses returns the status of every write so far, in order.
func (s *MemoryStore) Statuses() []models.UploadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UploadStatus, 0, len(s.updates))
	for _, u := range s.updates {
		out = append(out, u.Update.Status)
	}
	return out
}

// FailWrites makes every UpdateMigration return err (nil restores writes).
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

// FailReads makes every read return err (nil restores reads).
func (s *MemoryStore) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = err
}

func (s *MemoryStore) GetActivity(ctx context.Context, id uuid.UUID) (*models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads != nil {
		return nil, s.failReads
	}
	a, ok := s.activities[id]
	if !ok {
		return nil, merrors.NotFound("activity", id.String())
	}
	c := clone(*a)
	return &c, nil
}

func (s *MemoryStore) ListEligible(ctx context.Context, now time.Time) ([]models.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReads != nil {
		return nil, s.failReads
	}
	out := []models.Activity{}
	for _, a := range s.activities {
		if a.Eligible(now) {
			out = append(out, clone(*a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CountEligible(ctx context.Context, now time.Time) (int, error) {
	list, err := s.ListEligible(ctx, now)
	return len(list), err
}

func (s *MemoryStore) UpdateMigration(ctx context.Context, id uuid.UUID, u models.MigrationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failWrites != nil {
		return s.failWrites
	}
	a, ok := s.activities[id]
	if !ok {
		return merrors.NotFound("activity", id.String())
	}
	s.updates = append(s.updates, Update{ID: id, Update: u})

	m := &a.Migration
	m.UploadStatus = u.Status
	m.Uploaded = u.UploadedFlag()
	if u.Videos != nil {
		m.Videos = cloneVideos(u.Videos)
	}
	if u.LastError != nil {
		m.LastError = *u.LastError
	}
	m.AttemptCount++
	now := s.now()
	m.LastAttemptAt = &now
	a.UpdatedAt = now
	return nil
}

func clone(a models.Activity) models.Activity {
	a.Migration.Videos = cloneVideos(a.Migration.Videos)
	return a
}

func cloneVideos(v []models.VideoRecord) []models.VideoRecord {
	if v == nil {
		return nil
	}
	out := make([]models.VideoRecord, len(v))
	for i, r := range v {
		if r.DownloadedAt != nil {
			t := *r.DownloadedAt
			r.DownloadedAt = &t
		}
		if r.UploadedAt != nil {
			t := *r.UploadedAt
			r.UploadedAt = &t
		}
		out[i] = r
	}
	return out
}
