package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	branchdomain "github.com/smallbiznis/stockopname/internal/branch/domain"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MaxPerBranch bounds how many recurring schedules a branch may keep.
const MaxPerBranch = 2

// Schedule is a recurring reminder for an opening or closing count.
// DaysOfWeek uses 0 for Sunday through 6 for Saturday.
type Schedule struct {
	ID         snowflake.ID             `gorm:"primaryKey" json:"id"`
	BranchID   snowflake.ID             `json:"branch_id"`
	Type       opnamedomain.SessionType `gorm:"column:schedule_type" json:"type"`
	StartTime  string                   `json:"start_time"`
	DaysOfWeek datatypes.JSONSlice[int] `json:"days_of_week"`
	IsActive   bool                     `json:"is_active"`
	CreatedBy  snowflake.ID             `json:"created_by"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

func (Schedule) TableName() string { return "opname_schedules" }

// RunsOn reports whether the schedule is enabled for the weekday.
func (s Schedule) RunsOn(day time.Weekday) bool {
	for _, d := range s.DaysOfWeek {
		if d == int(day) {
			return true
		}
	}
	return false
}

// ReminderLog records that a reminder fired, keyed by what it was for.
type ReminderLog struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Kind      string
	RefID     snowflake.ID
	FireKey   string
	CreatedAt time.Time
}

func (ReminderLog) TableName() string { return "reminder_logs" }

const ReminderKindSchedule = "schedule"

type CreateScheduleRequest struct {
	BranchID   snowflake.ID             `json:"-"`
	Type       opnamedomain.SessionType `json:"type" binding:"required"`
	StartTime  string                   `json:"start_time" binding:"required"`
	DaysOfWeek []int                    `json:"days_of_week" binding:"required,min=1,max=7,dive,gte=0,lte=6"`
}

type UpdateScheduleRequest struct {
	StartTime  *string `json:"start_time"`
	DaysOfWeek []int   `json:"days_of_week" binding:"omitempty,min=1,max=7,dive,gte=0,lte=6"`
	IsActive   *bool   `json:"is_active"`
}

// DueSchedule is a schedule whose reminder should fire now.
type DueSchedule struct {
	Schedule Schedule
	Branch   branchdomain.Branch
	StartsAt time.Time
	// FireKey is the branch-local date of StartsAt.
	FireKey string
}

type Service interface {
	Create(ctx context.Context, principal authorization.Principal, req CreateScheduleRequest) (Schedule, error)
	List(ctx context.Context, principal authorization.Principal, branchID snowflake.ID) ([]Schedule, error)
	Update(ctx context.Context, principal authorization.Principal, id snowflake.ID, req UpdateScheduleRequest) (Schedule, error)
	Delete(ctx context.Context, principal authorization.Principal, id snowflake.ID) error

	DueReminders(ctx context.Context, now time.Time, lead, window time.Duration) ([]DueSchedule, error)
	SendScheduleReminders(ctx context.Context, window time.Duration) (int, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, schedule *Schedule) error
	Find(ctx context.Context, db *gorm.DB, id snowflake.ID) (Schedule, error)
	ListByBranch(ctx context.Context, db *gorm.DB, branchID snowflake.ID) ([]Schedule, error)
	ListActive(ctx context.Context, db *gorm.DB) ([]Schedule, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	// ClaimReminder returns false when the reminder was already logged.
	ClaimReminder(ctx context.Context, db *gorm.DB, entry ReminderLog) (bool, error)
}
