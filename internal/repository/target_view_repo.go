package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/experience_billing/internal/model"
)

type TargetViewRepository struct {
	db *gorm.DB
}

func NewTargetViewRepository(db *gorm.DB) *TargetViewRepository {
	return &TargetViewRepository{db: db}
}

func (r *TargetViewRepository) WithTx(tx *gorm.DB) *TargetViewRepository {
	return &TargetViewRepository{db: tx}
}

// Day truncates t to its UTC calendar day, the key of a TargetView row.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (r *TargetViewRepository) GetDay(experienceID int64, day time.Time, isTrial bool) (*model.TargetView, error) {
	var tv model.TargetView
	err := r.db.Where("experience_id = ? AND day = ? AND is_trial = ?", experienceID, Day(day), isTrial).First(&tv).Error
	if err != nil {
		return nil, err
	}
	return &tv, nil
}

// SumPrevious sums the experience's rows other than the given day's row. During a trial only
// trial rows count; a paid period also counts the trial history.
func (r *TargetViewRepository) SumPrevious(experienceID int64, day time.Time, isTrial bool) (int64, error) {
	q := r.db.Model(&model.TargetView{}).
		Where("experience_id = ?", experienceID).
		Where("NOT (day = ? AND is_trial = ?)", Day(day), isTrial)
	if isTrial {
		q = q.Where("is_trial = ?", true)
	}
	var total int64
	err := q.Select("COALESCE(SUM(views), 0)").Scan(&total).Error
	return total, err
}

// SumUserSince sums the user's views on days from since onwards for the given period flag.
func (r *TargetViewRepository) SumUserSince(userID int64, since time.Time, isTrial bool) (int64, error) {
	var total int64
	err := r.db.Model(&model.TargetView{}).
		Where("user_id = ? AND day >= ? AND is_trial = ?", userID, Day(since), isTrial).
		Select("COALESCE(SUM(views), 0)").
		Scan(&total).Error
	return total, err
}

// SumUserDay sums the user's views on one day for the given period flag.
func (r *TargetViewRepository) SumUserDay(userID int64, day time.Time, isTrial bool) (int64, error) {
	var total int64
	err := r.db.Model(&model.TargetView{}).
		Where("user_id = ? AND day = ? AND is_trial = ?", userID, Day(day), isTrial).
		Select("COALESCE(SUM(views), 0)").
		Scan(&total).Error
	return total, err
}

// AddViews creates the day row or increments it in one statement.
func (r *TargetViewRepository) AddViews(experienceID, userID int64, day time.Time, isTrial bool, increment int64) error {
	tv := model.TargetView{
		ExperienceID: experienceID,
		UserID:       userID,
		Day:          Day(day),
		IsTrial:      isTrial,
		Views:        increment,
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "experience_id"}, {Name: "day"}, {Name: "is_trial"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"views":      gorm.Expr("target_views.views + ?", increment),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&tv).Error
}
