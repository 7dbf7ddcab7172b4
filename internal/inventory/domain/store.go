package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Store is the inventory collaborator seen by the reconciliation engine.
type Store interface {
	ListAvailableByBranch(ctx context.Context, db *gorm.DB, branchID snowflake.ID) ([]StockUnit, error)
	ListSoldSince(ctx context.Context, db *gorm.DB, branchID snowflake.ID, since time.Time) ([]StockUnit, error)
	ApplyDiscrepancyResolution(ctx context.Context, db *gorm.DB, change ResolutionChange) (StockUnit, error)
}

var (
	ErrUnitNotFound  = errors.New("unit_not_found")
	ErrInvalidStatus = errors.New("invalid_unit_status")
	ErrStatusChanged = errors.New("unit_status_changed")
)
