package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/queue"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
)

type fakeRunner struct {
	mu   sync.Mutex
	err  error
	runs []int64
}

func (r *fakeRunner) RunJob(_ context.Context, job *model.ScheduledJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, job.ID)
	return r.err
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type failure struct {
	cause   error
	retryAt *time.Time
}

type fakeStore struct {
	mu        sync.Mutex
	jobs      map[int64]*model.ScheduledJob
	completed []int64
	failed    map[int64]failure
}

func newFakeStore(jobs ...*model.ScheduledJob) *fakeStore {
	s := &fakeStore{jobs: map[int64]*model.ScheduledJob{}, failed: map[int64]failure{}}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeStore) Job(_ context.Context, id int64) (*model.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return job, nil
}

func (s *fakeStore) Complete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, id)
	return nil
}

func (s *fakeStore) Fail(_ context.Context, id int64, cause error, retryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = failure{cause: cause, retryAt: retryAt}
	return nil
}

func newTestProcessor(runner Runner, store JobStore) *Processor {
	p := NewProcessor(runner, store, config.QueueConfig{MaxAttempts: 3, RetryBaseSeconds: 60}, zap.NewNop())
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }
	return p
}

func dispatched(id int64, attempts int) *model.ScheduledJob {
	return &model.ScheduledJob{ID: id, CommandName: model.CommandChargeNotification, RelatedEntityID: 7, Status: model.JobDispatched, Attempts: attempts}
}

func TestProcessor_Process(t *testing.T) {
	transient := &xerrors.ProviderError{Provider: "platform", Op: "validate", Retryable: true, Message: "busy"}
	permanent := errors.New("receipt is malformed")

	tests := []struct {
		name      string
		job       *model.ScheduledJob
		runErr    error
		completed bool
		retry     time.Duration
		failed    bool
	}{
		{name: "success completes", job: dispatched(1, 1), completed: true},
		{name: "transient failure retries", job: dispatched(2, 1), runErr: transient, failed: true, retry: time.Minute},
		{name: "backoff doubles per attempt", job: dispatched(3, 2), runErr: transient, failed: true, retry: 2 * time.Minute},
		{name: "write conflict retries", job: dispatched(4, 1), runErr: xerrors.ErrVersionConflict, failed: true, retry: time.Minute},
		{name: "attempt budget spent", job: dispatched(5, 3), runErr: transient, failed: true},
		{name: "permanent failure", job: dispatched(6, 1), runErr: permanent, failed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(tt.job)
			p := newTestProcessor(&fakeRunner{err: tt.runErr}, store)

			err := p.Process(context.Background(), &queue.JobMessage{JobID: tt.job.ID})
			if tt.runErr != nil {
				assert.ErrorIs(t, err, tt.runErr)
			} else {
				assert.NoError(t, err)
			}

			if tt.completed {
				assert.Equal(t, []int64{tt.job.ID}, store.completed)
			}
			f, ok := store.failed[tt.job.ID]
			assert.Equal(t, tt.failed, ok)
			if !tt.failed {
				return
			}
			if tt.retry == 0 {
				assert.Nil(t, f.retryAt)
				return
			}
			require.NotNil(t, f.retryAt)
			assert.Equal(t, p.now().Add(tt.retry), *f.retryAt)
		})
	}
}

func TestProcessor_SkipsSettledAndMissingJobs(t *testing.T) {
	settled := &model.ScheduledJob{ID: 1, Status: model.JobCanceled}
	runner := &fakeRunner{}
	store := newFakeStore(settled)
	p := newTestProcessor(runner, store)

	assert.NoError(t, p.Process(context.Background(), &queue.JobMessage{JobID: 1}))
	assert.NoError(t, p.Process(context.Background(), &queue.JobMessage{JobID: 404}))
	assert.Zero(t, runner.count())
	assert.Empty(t, store.completed)
}

func TestPool_Run(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := queue.NewQueue(client, "billing_jobs")
	runner := &fakeRunner{}
	store := newFakeStore(dispatched(1, 1), dispatched(2, 1))
	pool := NewPool(q, newTestProcessor(runner, store), 2, zap.NewNop())
	pool.popTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	require.NoError(t, q.Push(ctx, &queue.JobMessage{JobID: 1}))
	require.NoError(t, q.Push(ctx, &queue.JobMessage{JobID: 2}))
	require.Eventually(t, func() bool { return runner.count() == 2 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not stop")
	}
}
