package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/internal/staff/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Directory struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(p Params) domain.Directory {
	return &Directory{
		db:  p.DB,
		log: p.Log.Named("staff.directory"),
	}
}

func (d *Directory) Principal(ctx context.Context, staffID snowflake.ID) (authorization.Principal, error) {
	member, err := d.FindByID(ctx, staffID)
	if err != nil {
		return authorization.Principal{}, err
	}
	if !member.IsActive || !member.Role.Valid() {
		return authorization.Principal{}, domain.ErrStaffNotFound
	}
	principal := authorization.Principal{
		StaffID: member.ID,
		Role:    member.Role,
		Name:    member.DisplayName(),
	}
	if member.Role != authorization.RoleSuperAdmin {
		principal.BranchID = member.BranchID
	}
	return principal, nil
}

func (d *Directory) FindByID(ctx context.Context, staffID snowflake.ID) (domain.Member, error) {
	if staffID == 0 {
		return domain.Member{}, domain.ErrStaffNotFound
	}
	var member domain.Member
	err := d.db.WithContext(ctx).Where("id = ?", staffID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Member{}, domain.ErrStaffNotFound
	}
	if err != nil {
		return domain.Member{}, err
	}
	return member, nil
}

// ListAssignable returns active front-line staff of the branch. Administrators are never assignable.
func (d *Directory) ListAssignable(ctx context.Context, branchID snowflake.ID) ([]domain.Member, error) {
	var members []domain.Member
	err := d.db.WithContext(ctx).
		Where("branch_id = ? AND role = ? AND is_active = ?", branchID, authorization.RoleEmployee, true).
		Order("full_name asc, id asc").
		Find(&members).Error
	return members, err
}

func (d *Directory) ListByRole(ctx context.Context, role authorization.Role, branchID *snowflake.ID) ([]domain.Member, error) {
	stmt := d.db.WithContext(ctx).Where("role = ? AND is_active = ?", role, true)
	if branchID != nil {
		stmt = stmt.Where("branch_id = ?", *branchID)
	}
	var members []domain.Member
	if err := stmt.Order("id asc").Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (d *Directory) FindMany(ctx context.Context, ids []snowflake.ID) ([]domain.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var members []domain.Member
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

func (d *Directory) DisplayNames(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]string, error) {
	members, err := d.FindMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[snowflake.ID]string, len(members))
	for _, m := range members {
		names[m.ID] = m.DisplayName()
	}
	return names, nil
}
