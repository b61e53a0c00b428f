package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "github.com/aura-webinar/session-migrator/internal/errors"
	"github.com/aura-webinar/session-migrator/internal/metrics"
	"github.com/aura-webinar/session-migrator/internal/migration"
	"github.com/aura-webinar/session-migrator/internal/models"
	"github.com/aura-webinar/session-migrator/pkg/queue"
)

type fakeProcessor struct {
	mu      sync.Mutex
	calls   []uuid.UUID
	err     error
	active  int32
	overlap bool
	delay   time.Duration
}

func (p *fakeProcessor) ProcessActivity(ctx context.Context, id uuid.UUID) (*migration.RunResult, error) {
	if atomic.AddInt32(&p.active, 1) > 1 {
		p.mu.Lock()
		p.overlap = true
		p.mu.Unlock()
	}
	defer atomic.AddInt32(&p.active, -1)
	time.Sleep(p.delay)

	p.mu.Lock()
	p.calls = append(p.calls, id)
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &migration.RunResult{ActivityID: id, Upload: &migration.UploadResult{Status: models.UploadStatusCompleted}}, nil
}

func (p *fakeProcessor) Calls() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]uuid.UUID(nil), p.calls...)
}

type fakeQueue struct {
	mu       sync.Mutex
	jobs     []*queue.Job
	enqueued []queue.ActivityMigratePayload
	retried  []*queue.Job
	dead     []*queue.Job
}

func (q *fakeQueue) EnqueueActivityMigrate(ctx context.Context, p queue.ActivityMigratePayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.enqueued = append(q.enqueued, p)
	return "job-1", nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.jobs) == 0 {
		return nil, nil
	}
	j := q.jobs[0]
	q.jobs = q.jobs[1:]
	return j, nil
}

func (q *fakeQueue) Retry(ctx context.Context, job *queue.Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job.Attempt++
	if job.Attempt >= queue.MaxRetries {
		q.dead = append(q.dead, job)
		return true, nil
	}
	q.retried = append(q.retried, job)
	return false, nil
}

func migrateJob(t *testing.T, id uuid.UUID) *queue.Job {
	t.Helper()
	lists := &memLists{}
	_, err := queue.NewQueue(lists, nil).EnqueueActivityMigrate(context.Background(), queue.ActivityMigratePayload{ActivityID: id, Trigger: queue.TriggerWebhook})
	require.NoError(t, err)
	job, err := queue.NewQueue(lists, nil).Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

func TestAsyncDispatcher_SerializesAndSwallowsErrors(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("source down"), delay: 5 * time.Millisecond}
	d := NewAsyncDispatcher(proc, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, d.Dispatch(ctx, id, queue.TriggerWebhook))
	}
	cancel()
	d.Wait()

	assert.ElementsMatch(t, ids, proc.Calls())
	assert.False(t, proc.overlap)
}

func TestQueueDispatcher(t *testing.T) {
	q := &fakeQueue{}
	id := uuid.New()
	require.NoError(t, NewQueueDispatcher(q, nil).Dispatch(context.Background(), id, queue.TriggerCLI))
	require.Len(t, q.enqueued, 1)
	assert.Equal(t, queue.ActivityMigratePayload{ActivityID: id, Trigger: queue.TriggerCLI}, q.enqueued[0])
}

func TestConsumer_Process(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"success", nil, false},
		{"validation", merrors.Validation("activity is deleted"), true},
		{"not found", merrors.NotFound("activity", id.String()), true},
		{"transient", merrors.NewAPIError("source", 503, "unavailable"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{err: tt.err}
			c := NewConsumer(&fakeQueue{}, proc, time.Second, nil, nil)
			permanent, err := c.Process(context.Background(), migrateJob(t, id))
			assert.Equal(t, tt.permanent, permanent)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, []uuid.UUID{id}, proc.Calls())
		})
	}
}

func TestConsumer_ProcessRejectsBadJob(t *testing.T) {
	c := NewConsumer(&fakeQueue{}, &fakeProcessor{}, 0, nil, nil)
	permanent, err := c.Process(context.Background(), &queue.Job{Type: "email"})
	assert.True(t, permanent)
	assert.Error(t, err)
}

func TestConsumer_RunRetriesUntilDeadLetter(t *testing.T) {
	id := uuid.New()
	q := &fakeQueue{}
	job := migrateJob(t, id)
	q.jobs = []*queue.Job{job}

	m := metrics.New()
	proc := &fakeProcessor{err: merrors.NewAPIError("bunny", 502, "bad gateway")}
	c := NewConsumer(q, proc, time.Second, m, nil)
	c.poll = time.Millisecond
	c.backoff = time.Millisecond

	// Retried jobs go back on the fake queue.
	requeue := &requeueQueue{fakeQueue: q}
	c.queue = requeue

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.dead) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Len(t, proc.Calls(), queue.MaxRetries)
	assert.Equal(t, float64(queue.MaxRetries-1), testutil.ToFloat64(m.JobsTotal.WithLabelValues("retried")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("dead_lettered")))
}

func TestConsumer_RunDropsPermanentFailures(t *testing.T) {
	q := &fakeQueue{}
	q.jobs = []*queue.Job{migrateJob(t, uuid.New())}
	m := metrics.New()
	c := NewConsumer(q, &fakeProcessor{err: merrors.Validation("activity is deleted")}, 0, m, nil)
	c.poll = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.JobsTotal.WithLabelValues("dropped")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Empty(t, q.retried)
	assert.Empty(t, q.dead)
}

// requeueQueue pushes retried jobs back so the consumer sees them again.
type requeueQueue struct {
	*fakeQueue
}

func (r *requeueQueue) Retry(ctx context.Context, job *queue.Job) (bool, error) {
	dead, err := r.fakeQueue.Retry(ctx, job)
	if err == nil && !dead {
		r.mu.Lock()
		r.jobs = append(r.jobs, job)
		r.mu.Unlock()
	}
	return dead, err
}

// memLists is a single-use in-memory list store for building real job envelopes.
type memLists struct {
	items []string
}

func (m *memLists) RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		if b, ok := v.([]byte); ok {
			m.items = append(m.items, string(b))
		}
	}
	return redis.NewIntResult(int64(len(m.items)), nil)
}

func (m *memLists) BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	if len(m.items) == 0 {
		return redis.NewStringSliceResult(nil, redis.Nil)
	}
	v := m.items[0]
	m.items = m.items[1:]
	return redis.NewStringSliceResult([]string{keys[0], v}, nil)
}

func (m *memLists) LLen(ctx context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(int64(len(m.items)), nil)
}
