package domain

import (
	"errors"
	"fmt"

	"github.com/smallbiznis/stockopname/internal/authorization"
)

var (
	ErrForbidden = authorization.ErrForbidden

	ErrSessionNotFound = errors.New("session_not_found")
	ErrItemNotFound    = errors.New("item_not_found")
	ErrInvalidID       = errors.New("invalid_id")

	// Policy violations.
	ErrInvalidSessionType   = errors.New("invalid_session_type")
	ErrNoAssigneesSelected  = errors.New("no_assignees_selected")
	ErrInvalidAssignee      = errors.New("invalid_assignee")
	ErrDailyLimitExceeded   = errors.New("daily_limit_exceeded")
	ErrDuplicateSessionType = errors.New("duplicate_session_type")

	// State violations.
	ErrSessionLocked           = errors.New("session_locked")
	ErrSessionNotDraft         = errors.New("session_not_draft")
	ErrSessionNotCompleted     = errors.New("session_not_completed")
	ErrNothingScanned          = errors.New("nothing_scanned")
	ErrUnresolvedDiscrepancies = errors.New("unresolved_discrepancies")
	ErrNotDiscrepancy          = errors.New("not_discrepancy")
	ErrUnitStatusChanged       = errors.New("unit_status_changed")

	// Input validation.
	ErrInvalidIdentifier = errors.New("invalid_identifier")
	ErrDuplicateScan     = errors.New("duplicate_scan")
	ErrEmptyBatch        = errors.New("empty_batch")
	ErrBatchTooLarge     = errors.New("batch_too_large")
	ErrInvalidAction     = errors.New("invalid_action")
	ErrInvalidFilter     = errors.New("invalid_filter")
)

// DetailError attaches the affected field and value to a sentinel so callers
// can render an actionable message while errors.Is keeps working.
type DetailError struct {
	Err    error
	Field  string
	Value  string
	Detail map[string]any
}

func (e *DetailError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Err, e.Field)
	}
	return fmt.Sprintf("%s: %s=%s", e.Err, e.Field, e.Value)
}

func (e *DetailError) Unwrap() error { return e.Err }

func WithField(err error, field, value string) error {
	return &DetailError{Err: err, Field: field, Value: value}
}

func WithDetail(err error, detail map[string]any) error {
	return &DetailError{Err: err, Detail: detail}
}
