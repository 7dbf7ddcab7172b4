package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	StaffID    snowflake.ID
	UnreadOnly bool
	Cursor     *pagination.Cursor
	Limit      int
}

type Repository interface {
	InsertMany(ctx context.Context, db *gorm.DB, rows []domain.Notification) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]domain.Notification, error)
	MarkRead(ctx context.Context, db *gorm.DB, staffID, id snowflake.ID, at time.Time) (domain.Notification, error)
}

type repo struct{}

func Provide() Repository {
	return &repo{}
}

func (r *repo) InsertMany(ctx context.Context, db *gorm.DB, rows []domain.Notification) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&rows).Error
}

// List returns up to Limit+1 rows so the caller can tell whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]domain.Notification, error) {
	stmt := db.WithContext(ctx).Where("staff_id = ?", filter.StaffID)
	if filter.UnreadOnly {
		stmt = stmt.Where("read_at IS NULL")
	}
	if filter.Cursor != nil {
		cursorID, err := snowflake.ParseString(filter.Cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt.UTC(),
			filter.Cursor.CreatedAt.UTC(),
			int64(cursorID),
		)
	}
	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var rows []domain.Notification
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkRead keeps the first read time when called twice.
func (r *repo) MarkRead(ctx context.Context, db *gorm.DB, staffID, id snowflake.ID, at time.Time) (domain.Notification, error) {
	conn := db.WithContext(ctx)
	err := conn.Model(&domain.Notification{}).
		Where("id = ? AND staff_id = ? AND read_at IS NULL", id, staffID).
		Update("read_at", at.UTC()).Error
	if err != nil {
		return domain.Notification{}, err
	}

	var row domain.Notification
	err = conn.Where("id = ? AND staff_id = ?", id, staffID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Notification{}, domain.ErrNotificationNotFound
	}
	if err != nil {
		return domain.Notification{}, err
	}
	return row, nil
}
