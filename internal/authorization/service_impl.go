package authorization

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/stockopname/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectSession  = "opname_session"
	ObjectSchedule = "opname_schedule"
	ObjectStaff    = "staff"
	ObjectAuditLog = "audit_log"
)

const (
	ActionView     = "view"
	ActionScan     = "scan"
	ActionComplete = "complete"
	ActionResolve  = "resolve"
	ActionLock     = "lock"
	ActionAssign   = "assign"
	ActionCreate   = "create"
	ActionDelete   = "delete"
	ActionExport   = "export"

	ActionScheduleManage = "schedule.manage"
	ActionStaffList      = "staff.list"
	ActionAuditView      = "audit.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Evaluate(ctx context.Context, principal Principal, scope SessionScope, now time.Time) Capabilities {
	if !validPrincipal(principal) || scope.BranchID == 0 {
		return Capabilities{}
	}

	var inScope, assignedScope bool
	switch principal.Role {
	case RoleSuperAdmin:
		inScope, assignedScope = true, true
	case RoleAdminBranch:
		inScope = principal.InBranch(scope.BranchID)
		assignedScope = inScope
	case RoleEmployee:
		assignedScope = scope.Assigned && principal.InBranch(scope.BranchID)
	}

	caps := Capabilities{
		CanView:     assignedScope && s.allow(principal.Role, ObjectSession, ActionView),
		CanScan:     assignedScope && s.allow(principal.Role, ObjectSession, ActionScan),
		CanComplete: assignedScope && s.allow(principal.Role, ObjectSession, ActionComplete),
		CanResolve:  inScope && s.allow(principal.Role, ObjectSession, ActionResolve),
		CanLock:     inScope && s.allow(principal.Role, ObjectSession, ActionLock),
		CanAssign:   inScope && s.allow(principal.Role, ObjectSession, ActionAssign),
		CanDelete:   inScope && s.allow(principal.Role, ObjectSession, ActionDelete),
		CanExport:   inScope && s.allow(principal.Role, ObjectSession, ActionExport),
	}
	// Branch admins may only withdraw a session that has not started yet.
	if caps.CanDelete && principal.Role == RoleAdminBranch && !now.Before(scope.StartedAt) {
		caps.CanDelete = false
	}
	return caps
}

func (s *ServiceImpl) EvaluateBranch(ctx context.Context, principal Principal, branchID snowflake.ID) BranchCapabilities {
	if !validPrincipal(principal) || branchID == 0 {
		return BranchCapabilities{}
	}
	if principal.Role != RoleSuperAdmin && !principal.InBranch(branchID) {
		return BranchCapabilities{}
	}
	return BranchCapabilities{
		CanCreateSession:   s.allow(principal.Role, ObjectSession, ActionCreate),
		CanManageSchedules: s.allow(principal.Role, ObjectSchedule, ActionScheduleManage),
		CanListStaff:       s.allow(principal.Role, ObjectStaff, ActionStaffList),
	}
}

func (s *ServiceImpl) Allowed(ctx context.Context, principal Principal, object, action string) bool {
	if !validPrincipal(principal) {
		return false
	}
	return s.allow(principal.Role, strings.TrimSpace(object), strings.TrimSpace(action))
}

func (s *ServiceImpl) allow(role Role, object, action string) bool {
	if object == "" || action == "" {
		return false
	}
	ok, err := s.enforcer.Enforce(subject(role), object, action)
	if err != nil {
		s.log.Warn("policy evaluation failed",
			zap.String("role", string(role)),
			zap.String("object", object),
			zap.String("action", action),
			zap.Error(err),
		)
		return false
	}
	return ok
}

func (s *ServiceImpl) Denied(ctx context.Context, principal Principal, object, action string, branchID *snowflake.ID) {
	s.log.Info("authorization denied",
		zap.String("staff_id", principal.StaffID.String()),
		zap.String("role", string(principal.Role)),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	actorID := principal.StaffID.String()
	targetID := "capability"
	if err := s.auditSvc.AuditLog(ctx, branchID, "staff", &actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   string(principal.Role),
	}); err != nil {
		s.log.Warn("failed to audit denial", zap.Error(err))
	}
}

func validPrincipal(p Principal) bool {
	if p.StaffID == 0 || !p.Role.Valid() {
		return false
	}
	if p.Role != RoleSuperAdmin && p.BranchID == nil {
		return false
	}
	return true
}

func subject(role Role) string {
	return "role:" + string(role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Front-line staff; narrowed to assigned sessions by Evaluate.
		{subject(RoleEmployee), ObjectSession, ActionView},
		{subject(RoleEmployee), ObjectSession, ActionScan},
		{subject(RoleEmployee), ObjectSession, ActionComplete},

		// Branch administrators, narrowed to their own branch.
		{subject(RoleAdminBranch), ObjectSession, ActionCreate},
		{subject(RoleAdminBranch), ObjectSession, ActionResolve},
		{subject(RoleAdminBranch), ObjectSession, ActionAssign},
		{subject(RoleAdminBranch), ObjectSession, ActionDelete},
		{subject(RoleAdminBranch), ObjectSession, ActionExport},
		{subject(RoleAdminBranch), ObjectSchedule, ActionScheduleManage},
		{subject(RoleAdminBranch), ObjectStaff, ActionStaffList},

		{subject(RoleSuperAdmin), ObjectSession, ActionLock},
		{subject(RoleSuperAdmin), ObjectAuditLog, ActionAuditView},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	groupings := [][]string{
		{subject(RoleSuperAdmin), subject(RoleAdminBranch)},
		{subject(RoleAdminBranch), subject(RoleEmployee)},
	}
	for _, g := range groupings {
		if _, err := enforcer.AddGroupingPolicy(g); err != nil {
			return err
		}
	}
	return nil
}
