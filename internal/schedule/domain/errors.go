package domain

import (
	"errors"

	"github.com/smallbiznis/stockopname/internal/authorization"
)

var (
	ErrForbidden = authorization.ErrForbidden

	ErrScheduleNotFound      = errors.New("schedule_not_found")
	ErrInvalidScheduleType   = errors.New("invalid_schedule_type")
	ErrInvalidStartTime      = errors.New("invalid_start_time")
	ErrInvalidDaysOfWeek     = errors.New("invalid_days_of_week")
	ErrScheduleLimitReached  = errors.New("schedule_limit_reached")
	ErrDuplicateScheduleType = errors.New("duplicate_schedule_type")
)
