package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
	"gorm.io/datatypes"
)

type EventType string

const (
	EventSessionCompleted EventType = "opname.session.completed"
	EventSessionReminder  EventType = "opname.session.reminder"
	EventScheduleReminder EventType = "opname.schedule.reminder"
)

// Event is a notification fanned out to every configured sink.
type Event struct {
	Type       EventType      `json:"type"`
	BranchID   snowflake.ID   `json:"branch_id"`
	SessionID  *snowflake.ID  `json:"session_id,omitempty"`
	ActorID    *snowflake.ID  `json:"actor_id,omitempty"`
	Recipients []snowflake.ID `json:"recipients"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Link       string         `json:"link,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Notification struct {
	ID        snowflake.ID      `gorm:"primaryKey" json:"id"`
	StaffID   snowflake.ID      `json:"staff_id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Link      string            `json:"link,omitempty"`
	Payload   datatypes.JSONMap `json:"payload,omitempty"`
	ReadAt    *time.Time        `json:"read_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

type InboxRequest struct {
	pagination.Pagination
	UnreadOnly bool
}

type InboxResponse struct {
	pagination.PageInfo
	Notifications []Notification `json:"notifications"`
}

// Dispatcher is what domain services depend on.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// Sink delivers an event over one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

type Service interface {
	Dispatcher
	Inbox(ctx context.Context, principal authorization.Principal, req InboxRequest) (InboxResponse, error)
	MarkRead(ctx context.Context, principal authorization.Principal, id snowflake.ID) (Notification, error)
}

var ErrNotificationNotFound = errors.New("notification_not_found")
