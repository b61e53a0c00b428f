package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLists keeps lists in memory. BLPop never blocks.
type fakeLists struct {
	lists   map[string][]string
	pushErr error
}

func newFakeLists() *fakeLists { return &fakeLists{lists: map[string][]string{}} }

func (f *fakeLists) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.pushErr != nil {
		return redis.NewIntResult(0, f.pushErr)
	}
	for _, v := range values {
		switch b := v.(type) {
		case []byte:
			f.lists[key] = append(f.lists[key], string(b))
		case string:
			f.lists[key] = append(f.lists[key], b)
		}
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeLists) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	for _, k := range keys {
		if l := f.lists[k]; len(l) > 0 {
			f.lists[k] = l[1:]
			return redis.NewStringSliceResult([]string{k, l[0]}, nil)
		}
	}
	return redis.NewStringSliceResult(nil, redis.Nil)
}

func (f *fakeLists) LLen(ctx context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	ctx := context.Background()
	lists := newFakeLists()
	q := NewQueue(lists, nil)
	id := uuid.New()

	jobID, err := q.EnqueueActivityMigrate(ctx, ActivityMigratePayload{ActivityID: id, Trigger: TriggerWebhook})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	job, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID)
	assert.Equal(t, 0, job.Attempt)

	payload, err := job.ActivityMigrate()
	require.NoError(t, err)
	assert.Equal(t, id, payload.ActivityID)
	assert.Equal(t, TriggerWebhook, payload.Trigger)

	job, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_DequeueSkipsGarbage(t *testing.T) {
	lists := newFakeLists()
	lists.lists[QueueActivities] = []string{"not json"}

	job, err := NewQueue(lists, nil).Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_RetryThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	lists := newFakeLists()
	q := NewQueue(lists, nil)
	job := &Job{ID: "j1", Type: JobTypeActivityMigrate}

	for i := 1; i < MaxRetries; i++ {
		dead, err := q.Retry(ctx, job)
		require.NoError(t, err)
		assert.False(t, dead)
		assert.Equal(t, i, job.Attempt)
	}
	dead, err := q.Retry(ctx, job)
	require.NoError(t, err)
	assert.True(t, dead)

	waiting, dlq, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(MaxRetries-1), waiting)
	assert.Equal(t, int64(1), dlq)

	var last Job
	require.NoError(t, json.Unmarshal([]byte(lists.lists[QueueDLQ][0]), &last))
	assert.Equal(t, MaxRetries, last.Attempt)
}

func TestQueue_EnqueueError(t *testing.T) {
	lists := newFakeLists()
	lists.pushErr = errors.New("connection refused")

	_, err := NewQueue(lists, nil).EnqueueActivityMigrate(context.Background(), ActivityMigratePayload{ActivityID: uuid.New()})
	assert.ErrorContains(t, err, "rpush")
}

func TestJob_ActivityMigrateRejects(t *testing.T) {
	_, err := (&Job{Type: "email"}).ActivityMigrate()
	assert.Error(t, err)

	_, err = (&Job{Type: JobTypeActivityMigrate, Payload: json.RawMessage(`{}`)}).ActivityMigrate()
	assert.Error(t, err)
}
