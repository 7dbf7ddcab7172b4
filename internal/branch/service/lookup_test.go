package service

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/stockopname/internal/branch/domain"
	"github.com/smallbiznis/stockopname/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestLocationPrecedence(t *testing.T) {
	policy := config.DefaultPolicy()
	policy.BranchTimezones = map[string]string{"2": "Asia/Makassar"}
	lookup := New(Params{Log: zap.NewNop(), Policy: config.NewStaticPolicyHolder(policy)})

	assert.Equal(t, "Asia/Makassar", lookup.Location(domain.Branch{ID: 2, Timezone: "Asia/Jayapura"}).String())
	assert.Equal(t, "Asia/Jayapura", lookup.Location(domain.Branch{ID: 3, Timezone: "Asia/Jayapura"}).String())
	assert.Equal(t, "Asia/Jakarta", lookup.Location(domain.Branch{ID: 4}).String())
	assert.Equal(t, "Asia/Jakarta", lookup.Location(domain.Branch{ID: 5, Timezone: "Mars/Olympus"}).String())
}

func TestFindByID(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(`CREATE TABLE branches (
		id INTEGER PRIMARY KEY, code TEXT, name TEXT, timezone TEXT, is_active BOOLEAN,
		created_at DATETIME, updated_at DATETIME)`).Error)
	require.NoError(t, db.Create(&domain.Branch{ID: 1, Code: "JKT", Name: "Jakarta", IsActive: true}).Error)

	lookup := New(Params{Log: zap.NewNop(), Policy: config.NewStaticPolicyHolder(config.DefaultPolicy())})

	b, err := lookup.LockByID(context.Background(), db, 1)
	require.NoError(t, err)
	assert.Equal(t, "JKT", b.Code)

	_, err = lookup.FindByID(context.Background(), db, 2)
	assert.ErrorIs(t, err, domain.ErrBranchNotFound)
}
