package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/schedule/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, schedule *domain.Schedule) error {
	return db.WithContext(ctx).Create(schedule).Error
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (domain.Schedule, error) {
	var row domain.Schedule
	err := db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Schedule{}, domain.ErrScheduleNotFound
	}
	if err != nil {
		return domain.Schedule{}, err
	}
	return row, nil
}

func (r *repo) ListByBranch(ctx context.Context, db *gorm.DB, branchID snowflake.ID) ([]domain.Schedule, error) {
	var rows []domain.Schedule
	err := db.WithContext(ctx).
		Where("branch_id = ?", branchID).
		Order("schedule_type asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListActive skips schedules of inactive branches.
func (r *repo) ListActive(ctx context.Context, db *gorm.DB) ([]domain.Schedule, error) {
	var rows []domain.Schedule
	err := db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("branch_id IN (SELECT id FROM branches WHERE is_active = ?)", true).
		Order("branch_id asc, schedule_type asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	res := db.WithContext(ctx).Model(&domain.Schedule{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Schedule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

func (r *repo) ClaimReminder(ctx context.Context, db *gorm.DB, entry domain.ReminderLog) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "ref_id"}, {Name: "fire_key"}},
			DoNothing: true,
		}).
		Create(&entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
