package service

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/quota"
	"github.com/qs3c/experience_billing/internal/repository"
)

// GateChange lists experiences a quota pass moved. Targets are switched after commit.
type GateChange struct {
	UserID   int64
	Disabled []model.Experience
	Enabled  []model.Experience
}

func (c *GateChange) Empty() bool {
	return len(c.Disabled) == 0 && len(c.Enabled) == 0
}

func (c *GateChange) merge(other GateChange) {
	if c.UserID == 0 {
		c.UserID = other.UserID
	}
	c.Disabled = append(c.Disabled, other.Disabled...)
	c.Enabled = append(c.Enabled, other.Enabled...)
}

// QuotaService is the only writer of experience status for capacity and budget reasons.
type QuotaService struct {
	db          *gorm.DB
	experiences *repository.ExperienceRepository
	activator   TargetActivator
	notifier    Notifier
	logger      *zap.Logger
}

func NewQuotaService(db *gorm.DB, activator TargetActivator, notifier Notifier, logger *zap.Logger) *QuotaService {
	return &QuotaService{
		db:          db,
		experiences: repository.NewExperienceRepository(db),
		activator:   activator,
		notifier:    notifier,
		logger:      logger,
	}
}

// Enforce disables enabled experiences beyond capacity, keeping the oldest.
func (s *QuotaService) Enforce(ctx context.Context, userID int64, capacity int) (GateChange, error) {
	return s.run(ctx, func(tx *gorm.DB) (GateChange, error) {
		return s.enforceTx(tx, userID, capacity)
	})
}

// DisableAll disables every enabled experience of the user.
func (s *QuotaService) DisableAll(ctx context.Context, userID int64) (GateChange, error) {
	return s.run(ctx, func(tx *gorm.DB) (GateChange, error) {
		return s.disableAllTx(tx, userID)
	})
}

// Restore trims to capacity and, when budgetLeft, re-enables disabled experiences into free slots.
func (s *QuotaService) Restore(ctx context.Context, userID int64, capacity int, budgetLeft bool) (GateChange, error) {
	return s.run(ctx, func(tx *gorm.DB) (GateChange, error) {
		return s.restoreTx(tx, userID, capacity, budgetLeft)
	})
}

func (s *QuotaService) run(ctx context.Context, fn func(tx *gorm.DB) (GateChange, error)) (GateChange, error) {
	var change GateChange
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		change, err = fn(tx)
		return err
	})
	if err != nil {
		return GateChange{}, err
	}
	s.publish(ctx, change)
	return change, nil
}

func (s *QuotaService) enforceTx(tx *gorm.DB, userID int64, capacity int) (GateChange, error) {
	repo := s.experiences.WithTx(tx)
	exps, err := repo.ListByUser(userID)
	if err != nil {
		return GateChange{}, err
	}
	return s.disableTx(repo, userID, exps, quota.PlanDisable(exps, capacity), true)
}

func (s *QuotaService) disableAllTx(tx *gorm.DB, userID int64) (GateChange, error) {
	repo := s.experiences.WithTx(tx)
	exps, err := repo.ListByUser(userID)
	if err != nil {
		return GateChange{}, err
	}
	return s.disableTx(repo, userID, exps, quota.PlanDisableAll(exps), false)
}

func (s *QuotaService) restoreTx(tx *gorm.DB, userID int64, capacity int, budgetLeft bool) (GateChange, error) {
	repo := s.experiences.WithTx(tx)
	exps, err := repo.ListByUser(userID)
	if err != nil {
		return GateChange{}, err
	}

	change, err := s.disableTx(repo, userID, exps, quota.PlanDisable(exps, capacity), true)
	if err != nil || !budgetLeft {
		return change, err
	}

	disabled := make(map[int64]bool, len(change.Disabled))
	for _, e := range change.Disabled {
		disabled[e.ID] = true
	}
	for i := range exps {
		if disabled[exps[i].ID] {
			exps[i].Status = model.ExperienceDisabled
			exps[i].IsLastUsed = true
		}
	}

	ids := quota.PlanRestore(exps, capacity)
	if len(ids) == 0 {
		return change, nil
	}
	if _, err := repo.Enable(ids); err != nil {
		return change, err
	}
	change.Enabled = pick(exps, ids)
	return change, nil
}

func (s *QuotaService) disableTx(repo *repository.ExperienceRepository, userID int64, exps []model.Experience, ids []int64, lastUsed bool) (GateChange, error) {
	change := GateChange{UserID: userID}
	if len(ids) == 0 {
		return change, nil
	}
	if _, err := repo.Disable(ids, lastUsed); err != nil {
		return change, err
	}
	change.Disabled = pick(exps, ids)
	return change, nil
}

// publish switches targets and tells the user about disabled experiences. Failures are logged;
// the bridge reconciles targets from experience status.
func (s *QuotaService) publish(ctx context.Context, change GateChange) {
	for _, e := range change.Disabled {
		if err := s.activator.Deactivate(ctx, e); err != nil {
			s.logger.Warn("target deactivation failed", zap.Int64("experience_id", e.ID), zap.Error(err))
		}
	}
	for _, e := range change.Enabled {
		if err := s.activator.Activate(ctx, e); err != nil {
			s.logger.Warn("target activation failed", zap.Int64("experience_id", e.ID), zap.Error(err))
		}
	}
	if len(change.Disabled) > 0 {
		deliver(ctx, s.notifier, s.logger, []Notice{{
			UserID: change.UserID,
			Type:   model.NotifyExperiencesDisabled,
			Params: map[string]string{"count": strconv.Itoa(len(change.Disabled))},
		}})
	}
	if !change.Empty() {
		s.logger.Info("quota gate applied",
			zap.Int64("user_id", change.UserID),
			zap.Int("disabled", len(change.Disabled)),
			zap.Int("enabled", len(change.Enabled)))
	}
}

func pick(exps []model.Experience, ids []int64) []model.Experience {
	byID := make(map[int64]model.Experience, len(exps))
	for _, e := range exps {
		byID[e.ID] = e
	}
	out := make([]model.Experience, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out
}
