package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) WithTx(tx *gorm.DB) *JobRepository {
	return &JobRepository{db: tx}
}

func (r *JobRepository) Create(job *model.ScheduledJob) error {
	return r.db.Create(job).Error
}

func (r *JobRepository) GetByID(id int64) (*model.ScheduledJob, error) {
	var job model.ScheduledJob
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// FindOpen returns the open job for command and entity, if any.
func (r *JobRepository) FindOpen(command string, entityID int64) (*model.ScheduledJob, error) {
	var job model.ScheduledJob
	err := r.db.Where("command_name = ? AND related_entity_id = ? AND status IN ?", command, entityID, model.OpenJobStatuses).
		Order("id ASC").
		First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) ListByEntity(entityID int64) ([]model.ScheduledJob, error) {
	var jobs []model.ScheduledJob
	err := r.db.Where("related_entity_id = ?", entityID).Order("id ASC").Find(&jobs).Error
	return jobs, err
}

// CancelOpen cancels the open jobs of command for entity.
func (r *JobRepository) CancelOpen(command string, entityID int64) (int64, error) {
	result := r.db.Model(&model.ScheduledJob{}).
		Where("command_name = ? AND related_entity_id = ? AND status IN ?", command, entityID, model.OpenJobStatuses).
		Update("status", model.JobCanceled)
	return result.RowsAffected, result.Error
}

// CancelAllOpen cancels every open job of the given entities.
func (r *JobRepository) CancelAllOpen(entityIDs []int64) (int64, error) {
	if len(entityIDs) == 0 {
		return 0, nil
	}
	result := r.db.Model(&model.ScheduledJob{}).
		Where("related_entity_id IN ? AND status IN ?", entityIDs, model.OpenJobStatuses).
		Update("status", model.JobCanceled)
	return result.RowsAffected, result.Error
}

// ClaimDue moves up to limit due pending jobs to dispatched and returns those this call won.
func (r *JobRepository) ClaimDue(now time.Time, limit int) ([]model.ScheduledJob, error) {
	var due []model.ScheduledJob
	err := r.db.Where("status = ? AND execute_after <= ?", model.JobPending, now).
		Order("execute_after ASC, id ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]model.ScheduledJob, 0, len(due))
	for _, job := range due {
		result := r.db.Model(&model.ScheduledJob{}).
			Where("id = ? AND status = ?", job.ID, model.JobPending).
			Updates(map[string]interface{}{
				"status":   model.JobDispatched,
				"attempts": gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return claimed, result.Error
		}
		if result.RowsAffected == 1 {
			job.Status = model.JobDispatched
			job.Attempts++
			claimed = append(claimed, job)
		}
	}
	return claimed, nil
}

// Complete finishes a dispatched job.
func (r *JobRepository) Complete(id int64) error {
	return r.db.Model(&model.ScheduledJob{}).
		Where("id = ? AND status = ?", id, model.JobDispatched).
		Updates(map[string]interface{}{
			"status":     model.JobCompleted,
			"last_error": "",
		}).Error
}

// Fail records the error. With retryAt set the job returns to pending for another attempt.
func (r *JobRepository) Fail(id int64, errMsg string, retryAt *time.Time) error {
	updates := map[string]interface{}{
		"status":     model.JobFailed,
		"last_error": errMsg,
	}
	if retryAt != nil {
		updates["status"] = model.JobPending
		updates["execute_after"] = *retryAt
	}
	return r.db.Model(&model.ScheduledJob{}).
		Where("id = ? AND status = ?", id, model.JobDispatched).
		Updates(updates).Error
}

// RequeueStale returns jobs dispatched before the cutoff to pending, e.g. after a worker crash.
func (r *JobRepository) RequeueStale(before time.Time) (int64, error) {
	result := r.db.Model(&model.ScheduledJob{}).
		Where("status = ? AND updated_at < ?", model.JobDispatched, before).
		Update("status", model.JobPending)
	return result.RowsAffected, result.Error
}
