package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
)

type Member struct {
	ID        snowflake.ID       `gorm:"primaryKey" json:"id"`
	Email     string             `json:"email"`
	FullName  string             `json:"full_name"`
	Role      authorization.Role `json:"role"`
	BranchID  *snowflake.ID      `json:"branch_id,omitempty"`
	IsActive  bool               `json:"is_active"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (Member) TableName() string { return "staff_members" }

// DisplayName falls back to the e-mail when no name was recorded.
func (m Member) DisplayName() string {
	if m.FullName != "" {
		return m.FullName
	}
	return m.Email
}

type Directory interface {
	Principal(ctx context.Context, staffID snowflake.ID) (authorization.Principal, error)
	FindByID(ctx context.Context, staffID snowflake.ID) (Member, error)
	ListAssignable(ctx context.Context, branchID snowflake.ID) ([]Member, error)
	ListByRole(ctx context.Context, role authorization.Role, branchID *snowflake.ID) ([]Member, error)
	FindMany(ctx context.Context, ids []snowflake.ID) ([]Member, error)
	DisplayNames(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]string, error)
}

var ErrStaffNotFound = errors.New("staff_not_found")
