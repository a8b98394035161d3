package repository

import (
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/internal/model"
)

type ExperienceRepository struct {
	db *gorm.DB
}

func NewExperienceRepository(db *gorm.DB) *ExperienceRepository {
	return &ExperienceRepository{db: db}
}

func (r *ExperienceRepository) WithTx(tx *gorm.DB) *ExperienceRepository {
	return &ExperienceRepository{db: tx}
}

func (r *ExperienceRepository) GetByID(id int64) (*model.Experience, error) {
	var exp model.Experience
	err := r.db.Where("id = ?", id).First(&exp).Error
	if err != nil {
		return nil, err
	}
	return &exp, nil
}

// ListByUser returns the user's experiences except deleted ones, oldest first.
func (r *ExperienceRepository) ListByUser(userID int64) ([]model.Experience, error) {
	var exps []model.Experience
	err := r.db.Where("user_id = ? AND status <> ?", userID, model.ExperienceDeleted).
		Order("created_at ASC, id ASC").
		Find(&exps).Error
	return exps, err
}

func (r *ExperienceRepository) ListByIDs(ids []int64) ([]model.Experience, error) {
	var exps []model.Experience
	if len(ids) == 0 {
		return exps, nil
	}
	err := r.db.Where("id IN ?", ids).Order("created_at ASC, id ASC").Find(&exps).Error
	return exps, err
}

// Disable moves enabled experiences to DISABLED. lastUsed marks them for restore-first.
func (r *ExperienceRepository) Disable(ids []int64, lastUsed bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Model(&model.Experience{}).
		Where("id IN ? AND status IN ?", ids, []model.ExperienceStatus{model.ExperienceActive, model.ExperiencePending}).
		Updates(map[string]interface{}{
			"status":       model.ExperienceDisabled,
			"is_last_used": lastUsed,
		})
	return result.RowsAffected, result.Error
}

// Enable re-activates DISABLED experiences and clears the restore-first mark.
func (r *ExperienceRepository) Enable(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Model(&model.Experience{}).
		Where("id IN ? AND status = ?", ids, model.ExperienceDisabled).
		Updates(map[string]interface{}{
			"status":       model.ExperienceActive,
			"is_last_used": false,
		})
	return result.RowsAffected, result.Error
}
