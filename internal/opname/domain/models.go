package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type SessionType string

const (
	SessionTypeOpening SessionType = "opening"
	SessionTypeClosing SessionType = "closing"
	SessionTypeAdhoc   SessionType = "adhoc"
)

func (t SessionType) Valid() bool {
	switch t {
	case SessionTypeOpening, SessionTypeClosing, SessionTypeAdhoc:
		return true
	default:
		return false
	}
}

// Unique reports whether only one session of this type may exist per branch and day.
func (t SessionType) Unique() bool {
	return t == SessionTypeOpening || t == SessionTypeClosing
}

type SessionStatus string

const (
	SessionStatusDraft     SessionStatus = "draft"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusLocked    SessionStatus = "locked"
)

type ScanResult string

const (
	ScanResultMatch        ScanResult = "match"
	ScanResultMissing      ScanResult = "missing"
	ScanResultUnregistered ScanResult = "unregistered"
)

// ScanOutcome is the per-identifier result reported to scanners.
type ScanOutcome string

const (
	ScanOutcomeMatch        ScanOutcome = "match"
	ScanOutcomeUnregistered ScanOutcome = "unregistered"
	ScanOutcomeDuplicate    ScanOutcome = "duplicate"
	ScanOutcomeInvalid      ScanOutcome = "invalid"
)

type SnapshotAction string

const (
	SnapshotActionSoldTokopedia SnapshotAction = "sold_ecommerce_tokopedia"
	SnapshotActionSoldShopee    SnapshotAction = "sold_ecommerce_shopee"
	SnapshotActionService       SnapshotAction = "service"
	SnapshotActionLost          SnapshotAction = "lost"
	SnapshotActionAvailable     SnapshotAction = "available"
)

func (a SnapshotAction) IsSale() bool {
	return a == SnapshotActionSoldTokopedia || a == SnapshotActionSoldShopee
}

type ScannedAction string

const (
	ScannedActionAddToStock  ScannedAction = "add_to_stock"
	ScannedActionMarkReturn  ScannedAction = "mark_return"
	ScannedActionDiscard     ScannedAction = "discard"
	ScannedActionInvestigate ScannedAction = "investigate"
)

// Counters are derived from child rows and stored on the session for display.
type Counters struct {
	TotalExpected     int `gorm:"column:total_expected" json:"total_expected"`
	TotalScanned      int `gorm:"column:total_scanned" json:"total_scanned"`
	TotalMatched      int `gorm:"column:total_matched" json:"total_matched"`
	TotalMissing      int `gorm:"column:total_missing" json:"total_missing"`
	TotalUnregistered int `gorm:"column:total_unregistered" json:"total_unregistered"`
}

func (c Counters) Discrepancies() int {
	return c.TotalMissing + c.TotalUnregistered
}

type Session struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	BranchID    snowflake.ID  `gorm:"not null" json:"branch_id"`
	SessionType SessionType   `gorm:"column:session_type" json:"type"`
	Status      SessionStatus `json:"status"`
	SessionDate string        `json:"session_date"`
	Notes       string        `json:"notes"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	ApprovedAt  *time.Time    `json:"approved_at,omitempty"`
	LockedAt    *time.Time    `json:"locked_at,omitempty"`
	RemindedAt  *time.Time    `json:"reminded_at,omitempty"`
	Counters    `gorm:"embedded"`
	CreatedBy   snowflake.ID  `json:"created_by"`
	CompletedBy *snowflake.ID `json:"completed_by,omitempty"`
	ApprovedBy  *snowflake.ID `json:"approved_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (Session) TableName() string { return "opname_sessions" }

type SnapshotItem struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	SessionID       snowflake.ID    `json:"session_id"`
	UnitID          snowflake.ID    `json:"unit_id"`
	IMEI            string          `gorm:"column:imei" json:"imei"`
	ProductLabel    string          `json:"product_label"`
	SellingPrice    decimal.Decimal `gorm:"type:numeric(18,2)" json:"selling_price"`
	CostPrice       decimal.Decimal `gorm:"type:numeric(18,2)" json:"cost_price"`
	StockStatus     string          `json:"stock_status"`
	ScanResult      ScanResult      `json:"scan_result"`
	ActionTaken     *string         `json:"action_taken,omitempty"`
	ActionNotes     *string         `json:"action_notes,omitempty"`
	SoldReferenceID *string         `json:"sold_reference_id,omitempty"`
	ResolvedBy      *snowflake.ID   `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (SnapshotItem) TableName() string { return "opname_snapshot_items" }

func (i SnapshotItem) Resolved() bool {
	return i.ActionTaken != nil && *i.ActionTaken != ""
}

type ScannedItem struct {
	ID          snowflake.ID  `gorm:"primaryKey" json:"id"`
	SessionID   snowflake.ID  `json:"session_id"`
	IMEI        string        `gorm:"column:imei" json:"imei"`
	ScanResult  ScanResult    `json:"scan_result"`
	ScannedBy   snowflake.ID  `json:"scanned_by"`
	ScannedAt   time.Time     `json:"scanned_at"`
	ActionTaken *string       `json:"action_taken,omitempty"`
	ActionNotes *string       `json:"action_notes,omitempty"`
	ResolvedBy  *snowflake.ID `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (ScannedItem) TableName() string { return "opname_scanned_items" }

func (i ScannedItem) Resolved() bool {
	return i.ActionTaken != nil && *i.ActionTaken != ""
}

type Assignment struct {
	SessionID  snowflake.ID `gorm:"primaryKey" json:"session_id"`
	StaffID    snowflake.ID `gorm:"primaryKey" json:"staff_id"`
	AssignedBy snowflake.ID `json:"assigned_by"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (Assignment) TableName() string { return "opname_session_assignments" }

// Resolution is the decision recorded against a discrepancy.
type Resolution struct {
	Action      string
	Notes       string
	ReferenceID string
	ResolvedBy  snowflake.ID
	ResolvedAt  time.Time
}
