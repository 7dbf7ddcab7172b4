package authorization

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func branchPtr(id snowflake.ID) *snowflake.ID { return &id }

func TestEvaluateMatrix(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	future := now.Add(2 * time.Hour)

	superAdmin := Principal{StaffID: 1, Role: RoleSuperAdmin}
	admin := Principal{StaffID: 2, Role: RoleAdminBranch, BranchID: branchPtr(10)}
	otherAdmin := Principal{StaffID: 3, Role: RoleAdminBranch, BranchID: branchPtr(11)}
	employee := Principal{StaffID: 4, Role: RoleEmployee, BranchID: branchPtr(10)}

	started := SessionScope{SessionID: 100, BranchID: 10, StartedAt: now.Add(-time.Hour)}
	notStarted := SessionScope{SessionID: 101, BranchID: 10, StartedAt: future}

	t.Run("super admin holds everything", func(t *testing.T) {
		caps := svc.Evaluate(ctx, superAdmin, started, now)
		assert.Equal(t, Capabilities{
			CanView: true, CanScan: true, CanComplete: true, CanResolve: true,
			CanLock: true, CanAssign: true, CanDelete: true, CanExport: true,
		}, caps)
	})

	t.Run("branch admin cannot lock", func(t *testing.T) {
		caps := svc.Evaluate(ctx, admin, started, now)
		assert.True(t, caps.CanScan)
		assert.True(t, caps.CanResolve)
		assert.True(t, caps.CanAssign)
		assert.False(t, caps.CanLock)
		assert.False(t, caps.CanDelete, "session already started")
		assert.True(t, svc.Evaluate(ctx, admin, notStarted, now).CanDelete)
	})

	t.Run("branch admin outside branch gets nothing", func(t *testing.T) {
		assert.Equal(t, Capabilities{}, svc.Evaluate(ctx, otherAdmin, started, now))
	})

	t.Run("employee needs assignment", func(t *testing.T) {
		assert.Equal(t, Capabilities{}, svc.Evaluate(ctx, employee, started, now))

		assigned := started
		assigned.Assigned = true
		caps := svc.Evaluate(ctx, employee, assigned, now)
		assert.Equal(t, Capabilities{CanView: true, CanScan: true, CanComplete: true}, caps)
	})

	t.Run("invalid principal", func(t *testing.T) {
		assert.Equal(t, Capabilities{}, svc.Evaluate(ctx, Principal{StaffID: 9, Role: "owner"}, started, now))
		assert.Equal(t, Capabilities{}, svc.Evaluate(ctx, Principal{StaffID: 9, Role: RoleEmployee}, started, now))
	})
}

func TestEvaluateBranch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	admin := Principal{StaffID: 2, Role: RoleAdminBranch, BranchID: branchPtr(10)}
	employee := Principal{StaffID: 4, Role: RoleEmployee, BranchID: branchPtr(10)}

	assert.Equal(t, BranchCapabilities{CanCreateSession: true, CanManageSchedules: true, CanListStaff: true},
		svc.EvaluateBranch(ctx, admin, 10))
	assert.Equal(t, BranchCapabilities{}, svc.EvaluateBranch(ctx, admin, 11))
	assert.Equal(t, BranchCapabilities{}, svc.EvaluateBranch(ctx, employee, 10))
	assert.True(t, svc.EvaluateBranch(ctx, Principal{StaffID: 1, Role: RoleSuperAdmin}, 11).CanCreateSession)
}

func TestAllowedAuditView(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.True(t, svc.Allowed(ctx, Principal{StaffID: 1, Role: RoleSuperAdmin}, ObjectAuditLog, ActionAuditView))
	assert.False(t, svc.Allowed(ctx, Principal{StaffID: 2, Role: RoleAdminBranch, BranchID: branchPtr(1)}, ObjectAuditLog, ActionAuditView))
}

func TestSeedingTwiceIsHarmless(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	_, err = NewEnforcer(db)
	require.NoError(t, err)
	_, err = NewEnforcer(db)
	require.NoError(t, err)
}
