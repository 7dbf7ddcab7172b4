package authorization

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleAdminBranch Role = "admin_branch"
	RoleEmployee    Role = "employee"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdminBranch, RoleEmployee:
		return true
	default:
		return false
	}
}

// Principal is the authenticated staff member behind a request.
// BranchID is nil for super admins.
type Principal struct {
	StaffID  snowflake.ID  `json:"staff_id"`
	Role     Role          `json:"role"`
	BranchID *snowflake.ID `json:"branch_id,omitempty"`
	Name     string        `json:"name"`
}

func (p Principal) IsSuperAdmin() bool { return p.Role == RoleSuperAdmin }

// InBranch reports whether the principal belongs to the branch. Super admins belong to every branch.
func (p Principal) InBranch(branchID snowflake.ID) bool {
	if p.IsSuperAdmin() {
		return true
	}
	return p.BranchID != nil && *p.BranchID == branchID
}

// SessionScope carries the facts about a session that capabilities depend on.
type SessionScope struct {
	SessionID snowflake.ID
	BranchID  snowflake.ID
	Assigned  bool
	StartedAt time.Time
}

// Capabilities is evaluated once per request and handed to the components that need it.
type Capabilities struct {
	CanView     bool `json:"can_view"`
	CanScan     bool `json:"can_scan"`
	CanComplete bool `json:"can_complete"`
	CanResolve  bool `json:"can_resolve"`
	CanLock     bool `json:"can_lock"`
	CanAssign   bool `json:"can_assign"`
	CanDelete   bool `json:"can_delete"`
	CanExport   bool `json:"can_export"`
}

type BranchCapabilities struct {
	CanCreateSession   bool `json:"can_create_session"`
	CanManageSchedules bool `json:"can_manage_schedules"`
	CanListStaff       bool `json:"can_list_staff"`
}

type Service interface {
	Evaluate(ctx context.Context, principal Principal, scope SessionScope, now time.Time) Capabilities
	EvaluateBranch(ctx context.Context, principal Principal, branchID snowflake.ID) BranchCapabilities
	// Allowed checks a role-level permission with no branch scope, e.g. audit log access.
	Allowed(ctx context.Context, principal Principal, object, action string) bool
	// Denied records a rejected attempt. It never fails.
	Denied(ctx context.Context, principal Principal, object, action string, branchID *snowflake.ID)
}
