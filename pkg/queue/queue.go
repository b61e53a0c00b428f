package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueActivities is the Redis list key for activity migration jobs.
	QueueActivities = "migrator:activities"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "migrator:dlq"
	// MaxRetries is the number of times to retry a job before moving to DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const JobTypeActivityMigrate JobType = "activity_migrate"

// Trigger records what asked for the migration.
type Trigger string

const (
	TriggerWebhook Trigger = "webhook"
	TriggerCLI     Trigger = "cli"
)

// ActivityMigratePayload asks a worker to run both pipeline stages for one activity.
type ActivityMigratePayload struct {
	ActivityID uuid.UUID `json:"activity_id"`
	Trigger    Trigger   `json:"trigger"`
}

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActivityMigrate decodes the job payload.
func (j *Job) ActivityMigrate() (ActivityMigratePayload, error) {
	var p ActivityMigratePayload
	if j.Type != JobTypeActivityMigrate {
		return p, fmt.Errorf("unexpected job type %q", j.Type)
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.ActivityID == uuid.Nil {
		return p, errors.New("payload has no activity_id")
	}
	return p, nil
}

// Lists is the subset of the Redis client the queue needs.
type Lists interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// Queue enqueues and dequeues jobs via Redis.
type Queue struct {
	client Lists
	logger *zap.Logger
	now    func() time.Time
}

// NewQueue creates a new Redis-backed job queue.
func NewQueue(client Lists, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, logger: logger, now: time.Now}
}

// EnqueueActivityMigrate enqueues a migration job and returns its id.
func (q *Queue) EnqueueActivityMigrate(ctx context.Context, payload ActivityMigratePayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	job := Job{
		ID:        uuid.New().String(),
		Type:      JobTypeActivityMigrate,
		Payload:   body,
		Attempt:   0,
		CreatedAt: q.now(),
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, QueueActivities, raw).Err(); err != nil {
		return "", fmt.Errorf("rpush: %w", err)
	}
	q.logger.Debug("enqueued activity migrate job",
		zap.String("job_id", job.ID),
		zap.String("activity_id", payload.ActivityID.String()),
		zap.String("trigger", string(payload.Trigger)),
	)
	return job.ID, nil
}

// Dequeue waits up to timeout for a job. It returns nil, nil when the wait expires or the
// popped entry cannot be decoded.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, QueueActivities).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a job with incremented attempt. If attempt >= MaxRetries, pushes to DLQ
// instead and reports deadLettered.
func (q *Queue) Retry(ctx context.Context, job *Job) (deadLettered bool, err error) {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	if job.Attempt >= MaxRetries {
		if err := q.client.RPush(ctx, QueueDLQ, raw).Err(); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return false, err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return true, nil
	}
	if err := q.client.RPush(ctx, QueueActivities, raw).Err(); err != nil {
		return false, err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return false, nil
}

// Depth returns the number of waiting and dead-lettered jobs.
func (q *Queue) Depth(ctx context.Context) (waiting, dead int64, err error) {
	if waiting, err = q.client.LLen(ctx, QueueActivities).Result(); err != nil {
		return 0, 0, fmt.Errorf("llen %s: %w", QueueActivities, err)
	}
	if dead, err = q.client.LLen(ctx, QueueDLQ).Result(); err != nil {
		return 0, 0, fmt.Errorf("llen %s: %w", QueueDLQ, err)
	}
	return waiting, dead, nil
}
