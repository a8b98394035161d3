package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/queue"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
)

// Runner executes the transition behind a scheduled job.
type Runner interface {
	RunJob(ctx context.Context, job *model.ScheduledJob) error
}

// JobStore records job outcomes.
type JobStore interface {
	Job(ctx context.Context, jobID int64) (*model.ScheduledJob, error)
	Complete(ctx context.Context, jobID int64) error
	Fail(ctx context.Context, jobID int64, cause error, retryAt *time.Time) error
}

// Processor runs one dequeued job and settles its descriptor.
type Processor struct {
	runner      Runner
	jobs        JobStore
	maxAttempts int
	retryBase   time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewProcessor(runner Runner, jobs JobStore, cfg config.QueueConfig, logger *zap.Logger) *Processor {
	return &Processor{
		runner:      runner,
		jobs:        jobs,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   time.Duration(cfg.RetryBaseSeconds) * time.Second,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the job named by msg. Jobs that are gone or no longer dispatched are skipped.
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	job, err := p.jobs.Job(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			p.logger.Warn("dequeued job does not exist", zap.Int64("job_id", msg.JobID))
			return nil
		}
		return err
	}
	if job.Status != model.JobDispatched {
		p.logger.Debug("dequeued job already settled", zap.Int64("job_id", job.ID), zap.String("status", string(job.Status)))
		return nil
	}

	started := p.now()
	runErr := p.runner.RunJob(ctx, job)
	if runErr == nil {
		p.logger.Info("job completed",
			zap.Int64("job_id", job.ID),
			zap.String("command", job.CommandName),
			zap.Int64("subscription_id", job.RelatedEntityID),
			zap.Duration("elapsed", p.now().Sub(started)))
		return p.jobs.Complete(ctx, job.ID)
	}

	retryAt := p.retryAt(job, runErr)
	fields := []zap.Field{
		zap.Int64("job_id", job.ID),
		zap.String("command", job.CommandName),
		zap.Int("attempts", job.Attempts),
		zap.Error(runErr),
	}
	if retryAt != nil {
		p.logger.Warn("job failed, retrying", append(fields, zap.Time("retry_at", *retryAt))...)
	} else {
		p.logger.Error("job failed", fields...)
	}
	if err := p.jobs.Fail(ctx, job.ID, runErr, retryAt); err != nil {
		return err
	}
	return runErr
}

// retryAt backs off exponentially for transient failures until the attempt budget is spent.
func (p *Processor) retryAt(job *model.ScheduledJob, err error) *time.Time {
	transient := xerrors.IsRetryable(err) || errors.Is(err, xerrors.ErrVersionConflict)
	if !transient || job.Attempts >= p.maxAttempts {
		return nil
	}
	delay := p.retryBase
	for i := 1; i < job.Attempts; i++ {
		delay *= 2
	}
	at := p.now().Add(delay)
	return &at
}

// Pool pops the job queue with a fixed number of goroutines.
type Pool struct {
	queue      *queue.Queue
	processor  *Processor
	workers    int
	popTimeout time.Duration
	logger     *zap.Logger
}

func NewPool(q *queue.Queue, processor *Processor, workers int, logger *zap.Logger) *Pool {
	return &Pool{
		queue:      q,
		processor:  processor,
		workers:    workers,
		popTimeout: 5 * time.Second,
		logger:     logger,
	}
}

// Run blocks until ctx is canceled and every worker has returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, workerID)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	log := p.logger.With(zap.Int("worker", workerID))
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			return
		default:
		}

		msg, err := p.queue.Pop(ctx, p.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("failed to pop job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		if err := p.processor.Process(ctx, msg); err != nil {
			log.Debug("job returned error", zap.Int64("job_id", msg.JobID), zap.Error(err))
		}
	}
}
