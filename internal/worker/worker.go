// Package worker runs notification-triggered migrations off the request path, either in
// process or through the Redis job queue.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/metrics"
	"github.com/aura-webinar/session-migrator/internal/migration"
	"github.com/aura-webinar/session-migrator/internal/retry"
	"github.com/aura-webinar/session-migrator/pkg/queue"
)

// Processor migrates one named activity.
type Processor interface {
	ProcessActivity(ctx context.Context, id uuid.UUID) (*migration.RunResult, error)
}

// Dispatcher hands an activity to background processing and returns without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, id uuid.UUID, trigger queue.Trigger) error
}

// JobQueue is the part of queue.Queue the worker uses.
type JobQueue interface {
	EnqueueActivityMigrate(ctx context.Context, payload queue.ActivityMigratePayload) (string, error)
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) (bool, error)
}

// AsyncDispatcher runs each dispatched activity in a goroutine of this process. Runs are
// serialized so at most one activity is in flight. Errors are logged and swallowed.
type AsyncDispatcher struct {
	proc    Processor
	timeout time.Duration
	logger  *zap.Logger

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewAsyncDispatcher creates an in-process dispatcher. timeout bounds each run (zero means none).
func NewAsyncDispatcher(proc Processor, timeout time.Duration, logger *zap.Logger) *AsyncDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncDispatcher{proc: proc, timeout: timeout, logger: logger}
}

// Dispatch starts processing id and returns immediately. The run outlives ctx.
func (d *AsyncDispatcher) Dispatch(ctx context.Context, id uuid.UUID, trigger queue.Trigger) error {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.mu.Lock()
		defer d.mu.Unlock()

		runCtx := context.WithoutCancel(ctx)
		if d.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, d.timeout)
			defer cancel()
		}
		res, err := d.proc.ProcessActivity(runCtx, id)
		logRun(d.logger, id, trigger, res, err)
	}()
	return nil
}

// Wait blocks until every dispatched run has finished.
func (d *AsyncDispatcher) Wait() { d.wg.Wait() }

// QueueDispatcher enqueues dispatched activities for a worker process.
type QueueDispatcher struct {
	queue  JobQueue
	logger *zap.Logger
}

// NewQueueDispatcher creates a dispatcher backed by the job queue.
func NewQueueDispatcher(q JobQueue, logger *zap.Logger) *QueueDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueDispatcher{queue: q, logger: logger}
}

// Dispatch enqueues an activity migrate job.
func (d *QueueDispatcher) Dispatch(ctx context.Context, id uuid.UUID, trigger queue.Trigger) error {
	jobID, err := d.queue.EnqueueActivityMigrate(ctx, queue.ActivityMigratePayload{ActivityID: id, Trigger: trigger})
	if err != nil {
		return err
	}
	d.logger.Info("activity queued",
		zap.String("activity_id", id.String()),
		zap.String("job_id", jobID),
		zap.String("trigger", string(trigger)),
	)
	return nil
}

// Consumer pulls activity migrate jobs from the queue and processes them one at a time.
type Consumer struct {
	queue   JobQueue
	proc    Processor
	timeout time.Duration
	poll    time.Duration
	backoff time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewConsumer creates a queue consumer. timeout bounds each job's pipeline run.
func NewConsumer(q JobQueue, proc Processor, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		queue:   q,
		proc:    proc,
		timeout: timeout,
		poll:    5 * time.Second,
		backoff: queue.RetryBackoff,
		metrics: m,
		logger:  logger,
	}
}

// Process executes one job. Failures that cannot succeed on retry are reported as permanent.
func (c *Consumer) Process(ctx context.Context, job *queue.Job) (permanent bool, err error) {
	payload, err := job.ActivityMigrate()
	if err != nil {
		return true, err
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	res, err := c.proc.ProcessActivity(ctx, payload.ActivityID)
	logRun(c.logger, payload.ActivityID, payload.Trigger, res, err)
	if err != nil {
		return errors.Is(err, merrors.ErrValidation) || errors.Is(err, merrors.ErrNotFound), err
	}
	return false, nil
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("migration worker started", zap.String("queue", queue.QueueActivities))
	for {
		if ctx.Err() != nil {
			c.logger.Info("migration worker stopping")
			return
		}

		job, err := c.queue.Dequeue(ctx, c.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Warn("dequeue error", zap.Error(err))
			_ = retry.Sleep(ctx, c.backoff)
			continue
		}
		if job == nil {
			continue
		}

		c.logger.Debug("processing job", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		permanent, err := c.Process(ctx, job)
		switch {
		case err == nil:
			c.metrics.RecordJob("done")
		case permanent:
			c.metrics.RecordJob("dropped")
		case ctx.Err() != nil:
			c.requeue(context.WithoutCancel(ctx), job)
		default:
			c.requeue(ctx, job)
			_ = retry.Sleep(ctx, c.backoff)
		}
	}
}

func (c *Consumer) requeue(ctx context.Context, job *queue.Job) {
	dead, err := c.queue.Retry(ctx, job)
	switch {
	case err != nil:
		c.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
	case dead:
		c.metrics.RecordJob("dead_lettered")
	default:
		c.metrics.RecordJob("retried")
	}
}

func logRun(logger *zap.Logger, id uuid.UUID, trigger queue.Trigger, res *migration.RunResult, err error) {
	fields := []zap.Field{
		zap.String("activity_id", id.String()),
		zap.String("trigger", string(trigger)),
	}
	if err != nil {
		logger.Error("activity processing failed", append(fields, zap.Error(err))...)
		return
	}
	if res != nil && res.Upload != nil {
		fields = append(fields,
			zap.String("status", string(res.Upload.Status)),
			zap.Int("uploaded", len(res.Upload.Uploaded)),
			zap.Int("failed", len(res.Upload.Failed)),
		)
	}
	logger.Info("activity processed", fields...)
}
