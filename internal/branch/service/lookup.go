package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/branch/domain"
	"github.com/smallbiznis/stockopname/internal/config"
	"github.com/smallbiznis/stockopname/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Policy *config.PolicyConfigHolder
}

type Lookup struct {
	log    *zap.Logger
	policy *config.PolicyConfigHolder
}

func New(p Params) domain.Lookup {
	return &Lookup{
		log:    p.Log.Named("branch.lookup"),
		policy: p.Policy,
	}
}

func (l *Lookup) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (domain.Branch, error) {
	return l.find(ctx, conn, id, false)
}

func (l *Lookup) LockByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (domain.Branch, error) {
	return l.find(ctx, tx, id, true)
}

func (l *Lookup) find(ctx context.Context, conn *gorm.DB, id snowflake.ID, forUpdate bool) (domain.Branch, error) {
	if id == 0 {
		return domain.Branch{}, domain.ErrBranchNotFound
	}
	query := `SELECT * FROM branches WHERE id = ?`
	if forUpdate {
		query = db.ForUpdate(conn, query)
	}
	var branch domain.Branch
	res := conn.WithContext(ctx).Raw(query, id).Scan(&branch)
	if res.Error != nil {
		return domain.Branch{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Branch{}, domain.ErrBranchNotFound
	}
	return branch, nil
}

// Location resolves the branch time zone: policy override, then the branch row,
// then the policy default, then UTC.
func (l *Lookup) Location(branch domain.Branch) *time.Location {
	policy := l.policy.Get()
	candidates := []string{
		policy.BranchTimezones[branch.ID.String()],
		branch.Timezone,
		policy.DefaultTimezone,
	}
	for _, name := range candidates {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		loc, err := time.LoadLocation(name)
		if err != nil {
			l.log.Warn("unknown time zone", zap.String("branch_id", branch.ID.String()), zap.String("timezone", name))
			continue
		}
		return loc
	}
	return time.UTC
}
