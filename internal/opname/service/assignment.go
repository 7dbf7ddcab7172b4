package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/internal/opname/guard"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// UpdateAssignments replaces the set of staff allowed to scan the session.
func (s *Service) UpdateAssignments(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, staffIDs []snowflake.ID) ([]domain.Assignee, error) {
	session, err := s.repo.FindSession(ctx, s.db, sessionID)
	if err != nil {
		return nil, s.report(ctx, principal, s.hideMissing(principal, authorization.ActionAssign, err))
	}
	caps, err := s.capabilities(ctx, s.db, principal, session)
	if err != nil {
		return nil, err
	}
	if !caps.CanAssign {
		return nil, s.report(ctx, principal, s.deny(authorization.ActionAssign, session.BranchID))
	}
	if err := guard.EnsureAssignable(session.Status); err != nil {
		return nil, err
	}
	ids, err := s.validateAssignees(ctx, session.BranchID, staffIDs)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.withTx(ctx, principal, func(tx *gorm.DB) error {
		locked, err := s.repo.LockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := guard.EnsureAssignable(locked.Status); err != nil {
			return err
		}
		return s.repo.ReplaceAssignments(ctx, tx, sessionID, ids, principal.StaffID, now)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("opname assignments updated",
		zap.String("session_id", sessionID.String()),
		zap.Int("assignees", len(ids)),
	)
	s.audit(ctx, principal, session.BranchID, "opname.session.assignments_updated", "opname_session", sessionID, map[string]any{
		"assignees": idStrings(ids),
	})
	return s.assignees(ctx, s.db, sessionID)
}

func (s *Service) ListAssignableStaff(ctx context.Context, principal authorization.Principal, branchID snowflake.ID) ([]staffdomain.Member, error) {
	if !s.authz.EvaluateBranch(ctx, principal, branchID).CanListStaff {
		s.authz.Denied(ctx, principal, authorization.ObjectStaff, authorization.ActionStaffList, &branchID)
		return nil, domain.ErrForbidden
	}
	members, err := s.staff.ListAssignable(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []staffdomain.Member{}
	}
	return members, nil
}
