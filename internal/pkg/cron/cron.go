// Package cron runs the scheduler's recurring sweeps.
package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/config"
)

// Sweeper is the job scheduler work the cron drives.
type Sweeper interface {
	DispatchDue(ctx context.Context) (int, error)
	RequeueStale(ctx context.Context, maxAge time.Duration) (int64, error)
	PurgeAbandonedPending(ctx context.Context) (int64, error)
}

type Service struct {
	cron    *cron.Cron
	sweeper Sweeper
	cfg     config.SchedulerConfig
	logger  *zap.Logger
}

func NewService(sweeper Sweeper, cfg config.SchedulerConfig, logger *zap.Logger) *Service {
	l := cronLogger{logger.Sugar()}
	c := cron.New(cron.WithLogger(l), cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)))
	return &Service{
		cron:    c,
		sweeper: sweeper,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start registers the sweeps and starts the scheduler.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.DispatchSpec, s.dispatch); err != nil {
		return fmt.Errorf("schedule dispatch %q: %w", s.cfg.DispatchSpec, err)
	}
	if _, err := s.cron.AddFunc(s.cfg.CleanupSpec, s.cleanup); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", s.cfg.CleanupSpec, err)
	}
	s.cron.Start()
	s.logger.Info("cron started",
		zap.String("dispatch_spec", s.cfg.DispatchSpec),
		zap.String("cleanup_spec", s.cfg.CleanupSpec))
	return nil
}

// Stop stops scheduling; the returned context is done once running sweeps finish.
func (s *Service) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("cron stopped")
	return ctx
}

func (s *Service) dispatch() {
	ctx := context.Background()
	if _, err := s.sweeper.DispatchDue(ctx); err != nil {
		s.logger.Error("dispatch due jobs failed", zap.Error(err))
	}
}

func (s *Service) cleanup() {
	ctx := context.Background()
	maxAge := time.Duration(s.cfg.StaleDispatchMinutes) * time.Minute
	if _, err := s.sweeper.RequeueStale(ctx, maxAge); err != nil {
		s.logger.Error("requeue stale jobs failed", zap.Error(err))
	}
	if _, err := s.sweeper.PurgeAbandonedPending(ctx); err != nil {
		s.logger.Error("purge abandoned pending subscriptions failed", zap.Error(err))
	}
}

// cronLogger routes robfig/cron's logging into zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
