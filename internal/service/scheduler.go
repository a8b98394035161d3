package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/queue"
	"github.com/qs3c/experience_billing/internal/repository"
)

// Scheduler stores job descriptors and hands due ones to the worker queue.
type Scheduler struct {
	db     *gorm.DB
	jobs   *repository.JobRepository
	subs   *repository.SubscriptionRepository
	queue  *queue.Queue
	cfg    config.SchedulerConfig
	logger *zap.Logger
	now    func() time.Time
}

func NewScheduler(db *gorm.DB, q *queue.Queue, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		db:     db,
		jobs:   repository.NewJobRepository(db),
		subs:   repository.NewSubscriptionRepository(db),
		queue:  q,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Schedule creates a pending job unless one is already open for command and entity.
func (s *Scheduler) Schedule(ctx context.Context, command string, entityID int64, runAt time.Time, params map[string]string) (bool, error) {
	return s.scheduleTx(s.db.WithContext(ctx), command, entityID, runAt, params)
}

// Cancel cancels the open job of command for entity.
func (s *Scheduler) Cancel(ctx context.Context, command string, entityID int64) error {
	return s.cancelTx(s.db.WithContext(ctx), command, entityID)
}

func (s *Scheduler) scheduleTx(tx *gorm.DB, command string, entityID int64, runAt time.Time, params map[string]string) (bool, error) {
	jobs := s.jobs.WithTx(tx)
	_, err := jobs.FindOpen(command, entityID)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}
	if params == nil {
		params = map[string]string{}
	}
	job := &model.ScheduledJob{
		CommandName:     command,
		Parameters:      datatypes.NewJSONType(params),
		ExecuteAfter:    runAt.UTC(),
		RelatedEntityID: entityID,
		Status:          model.JobPending,
	}
	if err := jobs.Create(job); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) cancelTx(tx *gorm.DB, command string, entityID int64) error {
	_, err := s.jobs.WithTx(tx).CancelOpen(command, entityID)
	return err
}

// DispatchDue claims due jobs and pushes them to the worker queue. A job whose push fails
// goes back to pending.
func (s *Scheduler) DispatchDue(ctx context.Context) (int, error) {
	jobs := s.jobs.WithTx(s.db.WithContext(ctx))
	now := s.now()
	claimed, err := jobs.ClaimDue(now, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, job := range claimed {
		msg := &queue.JobMessage{
			JobID:           job.ID,
			CommandName:     job.CommandName,
			RelatedEntityID: job.RelatedEntityID,
			Parameters:      job.Params(),
		}
		if err := s.queue.Push(ctx, msg); err != nil {
			s.logger.Error("failed to enqueue job", zap.Int64("job_id", job.ID), zap.Error(err))
			if ferr := jobs.Fail(job.ID, err.Error(), &now); ferr != nil {
				s.logger.Error("failed to release job", zap.Int64("job_id", job.ID), zap.Error(ferr))
			}
			continue
		}
		pushed++
	}
	if pushed > 0 {
		s.logger.Info("dispatched due jobs", zap.Int("count", pushed))
	}
	return pushed, nil
}

// RequeueStale returns jobs stuck in dispatched for longer than maxAge to pending.
func (s *Scheduler) RequeueStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	n, err := s.jobs.WithTx(s.db.WithContext(ctx)).RequeueStale(s.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("requeued stale jobs", zap.Int64("count", n))
	}
	return n, nil
}

// PurgeAbandonedPending deletes store purchases that never validated, with their open jobs.
func (s *Scheduler) PurgeAbandonedPending(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-time.Duration(s.cfg.PendingCleanupHours) * time.Hour)
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subs := s.subs.WithTx(tx)
		ids, err := subs.FindAbandonedPending(cutoff, s.cfg.BatchSize)
		if err != nil || len(ids) == 0 {
			return err
		}
		if _, err := s.jobs.WithTx(tx).CancelAllOpen(ids); err != nil {
			return err
		}
		deleted, err = subs.DeletePending(ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("purged abandoned pending subscriptions", zap.Int64("count", deleted))
	}
	return deleted, nil
}

// Complete marks a dispatched job done.
func (s *Scheduler) Complete(ctx context.Context, jobID int64) error {
	return s.jobs.WithTx(s.db.WithContext(ctx)).Complete(jobID)
}

// Fail records a job error; a non-nil retryAt puts the job back to pending.
func (s *Scheduler) Fail(ctx context.Context, jobID int64, cause error, retryAt *time.Time) error {
	return s.jobs.WithTx(s.db.WithContext(ctx)).Fail(jobID, cause.Error(), retryAt)
}

// Job loads a job descriptor.
func (s *Scheduler) Job(ctx context.Context, jobID int64) (*model.ScheduledJob, error) {
	job, err := s.jobs.WithTx(s.db.WithContext(ctx)).GetByID(jobID)
	if err != nil {
		return nil, notFound(err)
	}
	return job, nil
}
