package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListSessionFilter struct {
	BranchID   *snowflake.ID
	AssignedTo *snowflake.ID
	Date       string
	Status     SessionStatus
	Type       SessionType
	Cursor     *pagination.Cursor
	Limit      int
}

type Repository interface {
	InsertSession(ctx context.Context, db *gorm.DB, session *Session) error
	FindSession(ctx context.Context, db *gorm.DB, id snowflake.ID) (Session, error)
	LockSession(ctx context.Context, tx *gorm.DB, id snowflake.ID) (Session, error)
	UpdateSession(ctx context.Context, tx *gorm.DB, id snowflake.ID, updates map[string]any) error
	DeleteSession(ctx context.Context, tx *gorm.DB, id snowflake.ID) error
	ListSessionTypesForDay(ctx context.Context, tx *gorm.DB, branchID snowflake.ID, date string) ([]SessionType, error)
	ListSessions(ctx context.Context, db *gorm.DB, filter ListSessionFilter) ([]Session, error)

	InsertSnapshotItems(ctx context.Context, tx *gorm.DB, items []SnapshotItem) error
	FindSnapshotItem(ctx context.Context, db *gorm.DB, sessionID, itemID snowflake.ID) (SnapshotItem, error)
	FindSnapshotItemByIMEI(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, imei string) (*SnapshotItem, error)
	SetSnapshotResult(ctx context.Context, tx *gorm.DB, itemID snowflake.ID, result ScanResult, at time.Time) error
	ResolveSnapshotItem(ctx context.Context, tx *gorm.DB, itemID snowflake.ID, res Resolution) error
	ListSnapshotItems(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, filter ItemFilter) ([]SnapshotItem, error)

	// InsertScan reports false when (session, imei) was already scanned.
	InsertScan(ctx context.Context, tx *gorm.DB, item *ScannedItem) (bool, error)
	FindScannedItem(ctx context.Context, db *gorm.DB, sessionID, itemID snowflake.ID) (ScannedItem, error)
	DeleteScannedItem(ctx context.Context, tx *gorm.DB, itemID snowflake.ID) error
	ResolveScannedItem(ctx context.Context, tx *gorm.DB, itemID snowflake.ID, res Resolution) error
	ListScannedItems(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, filter ItemFilter) ([]ScannedItem, error)

	DeriveCounters(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (Counters, error)
	CountUnresolved(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (missing int, unregistered int, err error)
	ListDriftedSessionIDs(ctx context.Context, db *gorm.DB, limit int) ([]snowflake.ID, error)

	ReplaceAssignments(ctx context.Context, tx *gorm.DB, sessionID snowflake.ID, staffIDs []snowflake.ID, assignedBy snowflake.ID, at time.Time) error
	ListAssignments(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]Assignment, error)
	IsAssigned(ctx context.Context, db *gorm.DB, sessionID, staffID snowflake.ID) (bool, error)

	ListUpcomingDrafts(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]Session, error)
	ClaimReminder(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, at time.Time) (bool, error)
}
