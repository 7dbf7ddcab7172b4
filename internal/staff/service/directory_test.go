package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/internal/staff/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupDirectory(t *testing.T) (domain.Directory, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE staff_members (
		id INTEGER PRIMARY KEY,
		email TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		branch_id INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`).Error)
	return New(Params{DB: db, Log: zap.NewNop()}), db
}

func seedMember(t *testing.T, db *gorm.DB, id int64, role authorization.Role, branch *snowflake.ID, name string, active bool) {
	t.Helper()
	require.NoError(t, db.Create(&domain.Member{
		ID:       snowflake.ID(id),
		Email:    name + "@toko.id",
		FullName: name,
		Role:     role,
		BranchID: branch,
		IsActive: active,
	}).Error)
}

func TestListAssignableExcludesAdministrators(t *testing.T) {
	dir, db := setupDirectory(t)
	branch := snowflake.ID(10)
	other := snowflake.ID(11)

	seedMember(t, db, 1, authorization.RoleSuperAdmin, nil, "owner", true)
	seedMember(t, db, 2, authorization.RoleAdminBranch, &branch, "admin", true)
	seedMember(t, db, 3, authorization.RoleEmployee, &branch, "budi", true)
	seedMember(t, db, 4, authorization.RoleEmployee, &branch, "ani", true)
	seedMember(t, db, 5, authorization.RoleEmployee, &other, "citra", true)
	seedMember(t, db, 6, authorization.RoleEmployee, &branch, "dodi", false)

	members, err := dir.ListAssignable(context.Background(), branch)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "ani", members[0].FullName)
	assert.Equal(t, "budi", members[1].FullName)
}

func TestPrincipal(t *testing.T) {
	dir, db := setupDirectory(t)
	branch := snowflake.ID(10)
	seedMember(t, db, 1, authorization.RoleSuperAdmin, &branch, "owner", true)
	seedMember(t, db, 3, authorization.RoleEmployee, &branch, "budi", true)
	seedMember(t, db, 6, authorization.RoleEmployee, &branch, "dodi", false)

	p, err := dir.Principal(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, p.BranchID, "super admins are not tied to a branch")

	p, err = dir.Principal(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, p.BranchID)
	assert.Equal(t, branch, *p.BranchID)

	_, err = dir.Principal(context.Background(), 6)
	assert.ErrorIs(t, err, domain.ErrStaffNotFound)
	_, err = dir.Principal(context.Background(), 404)
	assert.ErrorIs(t, err, domain.ErrStaffNotFound)
}

func TestDisplayNamesFallsBackToEmail(t *testing.T) {
	dir, db := setupDirectory(t)
	branch := snowflake.ID(10)
	require.NoError(t, db.Create(&domain.Member{ID: 7, Email: "nameless@toko.id", Role: authorization.RoleEmployee, BranchID: &branch, IsActive: true}).Error)
	seedMember(t, db, 8, authorization.RoleEmployee, &branch, "eka", true)

	names, err := dir.DisplayNames(context.Background(), []snowflake.ID{7, 8, 9})
	require.NoError(t, err)
	assert.Equal(t, map[snowflake.ID]string{7: "nameless@toko.id", 8: "eka"}, names)
}
