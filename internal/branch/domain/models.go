package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Branch struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Code      string       `json:"code"`
	Name      string       `json:"name"`
	Timezone  string       `json:"timezone"`
	IsActive  bool         `json:"is_active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (Branch) TableName() string { return "branches" }

type Lookup interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (Branch, error)
	// LockByID takes a row lock on the branch for the rest of the transaction.
	LockByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (Branch, error)
	Location(branch Branch) *time.Location
}

var (
	ErrBranchNotFound = errors.New("branch_not_found")
	ErrBranchInactive = errors.New("branch_inactive")
)
