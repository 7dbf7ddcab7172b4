package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/stockopname/internal/audit/domain"
	"github.com/smallbiznis/stockopname/internal/authorization"
	branchdomain "github.com/smallbiznis/stockopname/internal/branch/domain"
	inventorydomain "github.com/smallbiznis/stockopname/internal/inventory/domain"
	notificationdomain "github.com/smallbiznis/stockopname/internal/notification/domain"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	scheduledomain "github.com/smallbiznis/stockopname/internal/schedule/domain"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = authorization.ErrForbidden
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

const (
	errorTypeValidation  = "validation_error"
	errorTypePolicy      = "policy_violation"
	errorTypeState       = "state_conflict"
	errorTypeConflict    = "conflict"
	errorTypeNotFound    = "not_found"
	errorTypeForbidden   = "forbidden"
	errorTypeUnauth      = "unauthorized"
	errorTypeRateLimited = "rate_limited"
	errorTypeUnavailable = "service_unavailable"
	errorTypeInternal    = "internal_error"
)

type errorClass struct {
	err     error
	status  int
	kind    string
	message string
}

// errorClasses is matched in order with errors.Is; the first hit wins.
var errorClasses = []errorClass{
	{ErrUnauthorized, http.StatusUnauthorized, errorTypeUnauth, "unauthorized"},
	{ErrForbidden, http.StatusForbidden, errorTypeForbidden, "you are not allowed to perform this action"},
	{ErrRateLimited, http.StatusTooManyRequests, errorTypeRateLimited, "too many scans, slow down"},
	{ErrServiceUnavailable, http.StatusServiceUnavailable, errorTypeUnavailable, "service unavailable"},

	{ErrInvalidRequest, http.StatusBadRequest, errorTypeValidation, "invalid request"},
	{opnamedomain.ErrInvalidID, http.StatusBadRequest, errorTypeValidation, "invalid id"},
	{opnamedomain.ErrInvalidSessionType, http.StatusBadRequest, errorTypeValidation, "session type must be opening, closing or adhoc"},
	{opnamedomain.ErrNoAssigneesSelected, http.StatusBadRequest, errorTypeValidation, "select at least one assignee"},
	{opnamedomain.ErrInvalidAssignee, http.StatusBadRequest, errorTypeValidation, "assignee is not assignable in this branch"},
	{opnamedomain.ErrInvalidIdentifier, http.StatusBadRequest, errorTypeValidation, "identifier must be numeric and long enough"},
	{opnamedomain.ErrEmptyBatch, http.StatusBadRequest, errorTypeValidation, "batch is empty"},
	{opnamedomain.ErrBatchTooLarge, http.StatusBadRequest, errorTypeValidation, "batch is too large"},
	{opnamedomain.ErrInvalidAction, http.StatusBadRequest, errorTypeValidation, "action is not valid for this item"},
	{opnamedomain.ErrInvalidFilter, http.StatusBadRequest, errorTypeValidation, "invalid filter"},
	{scheduledomain.ErrInvalidScheduleType, http.StatusBadRequest, errorTypeValidation, "schedule type must be opening or closing"},
	{scheduledomain.ErrInvalidStartTime, http.StatusBadRequest, errorTypeValidation, "start time must be HH:MM"},
	{scheduledomain.ErrInvalidDaysOfWeek, http.StatusBadRequest, errorTypeValidation, "days of week must be between 0 and 6"},
	{auditdomain.ErrInvalidPageToken, http.StatusBadRequest, errorTypeValidation, "invalid page token"},
	{auditdomain.ErrInvalidTimeRange, http.StatusBadRequest, errorTypeValidation, "invalid time range"},
	{auditdomain.ErrInvalidAction, http.StatusBadRequest, errorTypeValidation, "invalid action"},
	{pagination.ErrInvalidPageToken, http.StatusBadRequest, errorTypeValidation, "invalid page token"},

	{opnamedomain.ErrDailyLimitExceeded, http.StatusUnprocessableEntity, errorTypePolicy, "the branch already has the maximum number of sessions for this day"},
	{scheduledomain.ErrScheduleLimitReached, http.StatusUnprocessableEntity, errorTypePolicy, "the branch already has the maximum number of schedules"},
	{branchdomain.ErrBranchInactive, http.StatusUnprocessableEntity, errorTypePolicy, "branch is inactive"},

	{opnamedomain.ErrDuplicateSessionType, http.StatusConflict, errorTypeConflict, "a session of this type already exists for this day"},
	{opnamedomain.ErrDuplicateScan, http.StatusConflict, errorTypeConflict, "identifier was already scanned in this session"},
	{scheduledomain.ErrDuplicateScheduleType, http.StatusConflict, errorTypeConflict, "a schedule of this type already exists"},
	{opnamedomain.ErrSessionLocked, http.StatusConflict, errorTypeState, "session is locked"},
	{opnamedomain.ErrSessionNotDraft, http.StatusConflict, errorTypeState, "session is no longer a draft"},
	{opnamedomain.ErrSessionNotCompleted, http.StatusConflict, errorTypeState, "session is not completed"},
	{opnamedomain.ErrNothingScanned, http.StatusConflict, errorTypeState, "scan at least one item before completing"},
	{opnamedomain.ErrUnresolvedDiscrepancies, http.StatusConflict, errorTypeState, "resolve every discrepancy before locking"},
	{opnamedomain.ErrNotDiscrepancy, http.StatusConflict, errorTypeState, "item is not a discrepancy"},
	{opnamedomain.ErrUnitStatusChanged, http.StatusConflict, errorTypeState, "unit status changed since the snapshot was taken"},
	{ErrConflict, http.StatusConflict, errorTypeConflict, "conflict"},

	{ErrNotFound, http.StatusNotFound, errorTypeNotFound, "not found"},
	{opnamedomain.ErrSessionNotFound, http.StatusNotFound, errorTypeNotFound, "session not found"},
	{opnamedomain.ErrItemNotFound, http.StatusNotFound, errorTypeNotFound, "item not found"},
	{scheduledomain.ErrScheduleNotFound, http.StatusNotFound, errorTypeNotFound, "schedule not found"},
	{notificationdomain.ErrNotificationNotFound, http.StatusNotFound, errorTypeNotFound, "notification not found"},
	{branchdomain.ErrBranchNotFound, http.StatusNotFound, errorTypeNotFound, "branch not found"},
	{staffdomain.ErrStaffNotFound, http.StatusNotFound, errorTypeNotFound, "staff not found"},
	{inventorydomain.ErrUnitNotFound, http.StatusNotFound, errorTypeNotFound, "unit not found"},
	{gorm.ErrRecordNotFound, http.StatusNotFound, errorTypeNotFound, "not found"},
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// bindError turns a gin binding failure into per-field validation errors.
func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, ValidationError{
				Field:   fe.Field(),
				Code:    fe.Tag(),
				Message: validationTagMessage(fe),
			})
		}
		return &ValidationErrors{Errors: out}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return newValidationError(typeErr.Field, "invalid_type", "invalid value type")
	}
	if errors.Is(err, io.EOF) {
		return newValidationError("body", "required", "request body is required")
	}
	return invalidRequestError()
}

func validationTagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "must have at most " + fe.Param() + " entries"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "invalid value"
	}
}

// jsonTagName reports binding errors under their wire names.
func jsonTagName(field reflect.StructField) string {
	for _, tag := range []string{"json", "form"} {
		name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return field.Name
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeInternal,
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    errorTypeValidation,
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	class, ok := classify(err)
	if !ok {
		return http.StatusInternalServerError, errorPayload{
			Type:    errorTypeInternal,
			Message: "internal server error",
		}
	}

	payload := errorPayload{
		Type:    class.kind,
		Code:    class.err.Error(),
		Message: class.message,
	}

	var detail *opnamedomain.DetailError
	if errors.As(err, &detail) {
		if detail.Field != "" {
			payload.Errors = []ValidationError{{
				Field:   detail.Field,
				Code:    class.err.Error(),
				Message: class.message,
			}}
			if detail.Value != "" {
				payload.Details = map[string]any{detail.Field: detail.Value}
			}
		}
		if len(detail.Detail) > 0 {
			if payload.Details == nil {
				payload.Details = make(map[string]any, len(detail.Detail))
			}
			for k, v := range detail.Detail {
				payload.Details[k] = v
			}
		}
	}
	return class.status, payload
}

func classify(err error) (errorClass, bool) {
	for _, class := range errorClasses {
		if errors.Is(err, class.err) {
			return class, true
		}
	}
	return errorClass{}, false
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// classifyErrorForLog returns the error type and code recorded in request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	if asValidationErrors(err) != nil {
		return errorTypeValidation, "invalid_request"
	}
	if class, ok := classify(err); ok {
		return class.kind, class.err.Error()
	}
	return errorTypeInternal, "internal_error"
}
