package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/stockopname/internal/audit/domain"
	"github.com/smallbiznis/stockopname/internal/audit/repository"
	"github.com/smallbiznis/stockopname/internal/auditcontext"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupAuditService(t *testing.T) (auditdomain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		branch_id INTEGER,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT,
		ip_address TEXT,
		user_agent TEXT,
		created_at DATETIME NOT NULL
	)`).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node, Repo: repository.Provide()})
	return svc, db
}

func TestAuditLogUsesContextActor(t *testing.T) {
	svc, db := setupAuditService(t)

	ctx := auditcontext.WithActor(context.Background(), "staff", "42")
	ctx = auditcontext.WithRequestID(ctx, "req-1")
	ctx = auditcontext.WithSessionID(ctx, "900")
	branchID := snowflake.ID(7)
	target := "900"

	require.NoError(t, svc.AuditLog(ctx, &branchID, "", nil, "opname.session.created", "opname_session", &target, map[string]any{"type": "opening"}))

	var row auditdomain.AuditLog
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, "staff", row.ActorType)
	require.NotNil(t, row.ActorID)
	assert.Equal(t, "42", *row.ActorID)
	assert.Equal(t, "req-1", row.Metadata["request_id"])
	assert.Equal(t, "900", row.Metadata["session_id"])
	assert.Equal(t, "opening", row.Metadata["type"])
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := setupAuditService(t)
	err := svc.AuditLog(context.Background(), nil, "system", nil, "  ", "x", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesByBranch(t *testing.T) {
	svc, _ := setupAuditService(t)
	ctx := context.Background()
	branchA := snowflake.ID(1)
	branchB := snowflake.ID(2)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLog(ctx, &branchA, "system", nil, "opname.session.locked", "opname_session", nil, nil))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, svc.AuditLog(ctx, &branchB, "system", nil, "opname.session.locked", "opname_session", nil, nil))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
		BranchID:   &branchA,
	})
	require.NoError(t, err)
	assert.Len(t, first.AuditLogs, 2)
	require.True(t, first.HasMore)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
		BranchID:   &branchA,
	})
	require.NoError(t, err)
	assert.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
}

func TestListRejectsInvertedRange(t *testing.T) {
	svc, _ := setupAuditService(t)
	start := time.Now()
	end := start.Add(-time.Hour)
	_, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
