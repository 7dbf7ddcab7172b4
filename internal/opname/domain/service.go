package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
)

type CreateSessionRequest struct {
	BranchID    snowflake.ID
	Type        SessionType
	StartedAt   *time.Time
	AssigneeIDs []snowflake.ID
	Notes       string
}

type ListSessionsRequest struct {
	pagination.Pagination
	BranchID *snowflake.ID
	Date     string
	Status   SessionStatus
	Type     SessionType
}

type ListSessionsResponse struct {
	pagination.PageInfo
	Sessions []Session `json:"sessions"`
}

type Assignee struct {
	StaffID    snowflake.ID `json:"staff_id"`
	Name       string       `json:"name"`
	AssignedBy snowflake.ID `json:"assigned_by"`
	AssignedAt time.Time    `json:"assigned_at"`
}

type SessionView struct {
	Session
	Assignees    []Assignee                 `json:"assignees"`
	Capabilities authorization.Capabilities `json:"capabilities"`
}

// ItemFilter narrows snapshot and scanned item listings.
type ItemFilter struct {
	ScanResult     ScanResult
	UnresolvedOnly bool
}

type ScanResponse struct {
	Result   ScanOutcome   `json:"result"`
	Item     ScannedItem   `json:"item"`
	Snapshot *SnapshotItem `json:"snapshot_item,omitempty"`
	Counters Counters      `json:"counters"`
}

type BatchItemResult struct {
	Identifier string      `json:"identifier"`
	Result     ScanOutcome `json:"result"`
	ItemID     *string     `json:"item_id,omitempty"`
}

type BatchSummary struct {
	Match        int `json:"match"`
	Unregistered int `json:"unregistered"`
	Duplicate    int `json:"duplicate"`
	Invalid      int `json:"invalid"`
}

type BatchScanResponse struct {
	Items    []BatchItemResult `json:"items"`
	Summary  BatchSummary      `json:"summary"`
	Counters Counters          `json:"counters"`
}

type ResolveSnapshotRequest struct {
	Action      SnapshotAction
	Note        string
	ExternalRef string
}

type ResolveScannedRequest struct {
	Action ScannedAction
	Note   string
}

type ChannelCount struct {
	Channel string `json:"channel"`
	Count   int    `json:"count"`
}

type SoldUnit struct {
	UnitID       snowflake.ID `json:"unit_id"`
	IMEI         string       `json:"imei"`
	ProductLabel string       `json:"product_label"`
	Channel      string       `json:"channel"`
	SoldAt       time.Time    `json:"sold_at"`
	InSnapshot   bool         `json:"in_snapshot"`
}

type SalesSummary struct {
	Since    time.Time      `json:"since"`
	Total    int            `json:"total"`
	Channels []ChannelCount `json:"channels"`
	Units    []SoldUnit     `json:"units"`
}

type Service interface {
	CreateSession(ctx context.Context, principal authorization.Principal, req CreateSessionRequest) (SessionView, error)
	GetSession(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (SessionView, error)
	ListSessions(ctx context.Context, principal authorization.Principal, req ListSessionsRequest) (ListSessionsResponse, error)
	Capabilities(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (authorization.Capabilities, error)
	DeleteSession(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) error

	Scan(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, identifier string) (ScanResponse, error)
	BatchScan(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, identifiers []string) (BatchScanResponse, error)
	DeleteScan(ctx context.Context, principal authorization.Principal, sessionID, scannedItemID snowflake.ID) (Counters, error)
	ListScannedItems(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, filter ItemFilter) ([]ScannedItem, error)
	ListSnapshotItems(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, filter ItemFilter) ([]SnapshotItem, error)

	Complete(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (Session, error)
	Lock(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (Session, error)

	ResolveSnapshotItem(ctx context.Context, principal authorization.Principal, sessionID, itemID snowflake.ID, req ResolveSnapshotRequest) (SnapshotItem, error)
	ResolveScannedItem(ctx context.Context, principal authorization.Principal, sessionID, itemID snowflake.ID, req ResolveScannedRequest) (ScannedItem, error)

	SalesSinceStart(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (SalesSummary, error)

	UpdateAssignments(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, staffIDs []snowflake.ID) ([]Assignee, error)
	ListAssignableStaff(ctx context.Context, principal authorization.Principal, branchID snowflake.ID) ([]staffdomain.Member, error)

	RecomputeCounters(ctx context.Context, sessionID snowflake.ID) (before Counters, after Counters, err error)
	RepairDriftedCounters(ctx context.Context, limit int) (int, error)
	SendSessionReminders(ctx context.Context, limit int) (int, error)
}

// Add appends an item result and updates the summary.
func (r *BatchScanResponse) Add(item BatchItemResult) {
	r.Items = append(r.Items, item)
	switch item.Result {
	case ScanOutcomeMatch:
		r.Summary.Match++
	case ScanOutcomeUnregistered:
		r.Summary.Unregistered++
	case ScanOutcomeDuplicate:
		r.Summary.Duplicate++
	case ScanOutcomeInvalid:
		r.Summary.Invalid++
	}
}
