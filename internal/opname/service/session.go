package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	branchdomain "github.com/smallbiznis/stockopname/internal/branch/domain"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/internal/opname/guard"
	"github.com/smallbiznis/stockopname/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sessionDateLayout = "2006-01-02"

// CreateSession freezes the branch's available units into a new draft session.
func (s *Service) CreateSession(ctx context.Context, principal authorization.Principal, req domain.CreateSessionRequest) (domain.SessionView, error) {
	if req.BranchID == 0 {
		return domain.SessionView{}, domain.WithField(domain.ErrInvalidID, "branch_id", "")
	}
	if !s.authz.EvaluateBranch(ctx, principal, req.BranchID).CanCreateSession {
		return domain.SessionView{}, s.report(ctx, principal, s.deny(authorization.ActionCreate, req.BranchID))
	}
	if !req.Type.Valid() {
		return domain.SessionView{}, domain.WithField(domain.ErrInvalidSessionType, "type", string(req.Type))
	}
	assignees, err := s.validateAssignees(ctx, req.BranchID, req.AssigneeIDs)
	if err != nil {
		return domain.SessionView{}, err
	}

	now := s.now()
	startedAt := now
	if req.StartedAt != nil && !req.StartedAt.IsZero() {
		startedAt = req.StartedAt.UTC()
	}
	policy := s.policy.Get()

	session := domain.Session{
		ID:          s.genID.Generate(),
		BranchID:    req.BranchID,
		SessionType: req.Type,
		Status:      domain.SessionStatusDraft,
		Notes:       strings.TrimSpace(req.Notes),
		StartedAt:   startedAt,
		CreatedBy:   principal.StaffID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.withTx(ctx, principal, func(tx *gorm.DB) error {
		branch, err := s.branches.LockByID(ctx, tx, req.BranchID)
		if err != nil {
			return err
		}
		if !branch.IsActive {
			return branchdomain.ErrBranchInactive
		}
		session.SessionDate = sessionDate(startedAt, s.branches.Location(branch))

		existing, err := s.repo.ListSessionTypesForDay(ctx, tx, req.BranchID, session.SessionDate)
		if err != nil {
			return err
		}
		if err := guard.EnsureDailyPolicy(existing, req.Type, policy.DailySessionCap); err != nil {
			return err
		}

		if err := s.repo.InsertSession(ctx, tx, &session); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.WithField(domain.ErrDuplicateSessionType, "type", string(req.Type))
			}
			return err
		}

		units, err := s.inventory.ListAvailableByBranch(ctx, tx, req.BranchID)
		if err != nil {
			return err
		}
		items := make([]domain.SnapshotItem, 0, len(units))
		for _, unit := range units {
			items = append(items, domain.SnapshotItem{
				ID:           s.genID.Generate(),
				SessionID:    session.ID,
				UnitID:       unit.ID,
				IMEI:         unit.IMEI,
				ProductLabel: unit.ProductLabel,
				SellingPrice: unit.SellingPrice,
				CostPrice:    unit.CostPrice,
				StockStatus:  string(unit.Status),
				ScanResult:   domain.ScanResultMissing,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}
		if err := s.repo.InsertSnapshotItems(ctx, tx, items); err != nil {
			return err
		}
		if err := s.repo.ReplaceAssignments(ctx, tx, session.ID, assignees, principal.StaffID, now); err != nil {
			return err
		}

		counters, err := s.refreshCounters(ctx, tx, session.ID, now)
		if err != nil {
			return err
		}
		session.Counters = counters
		return nil
	})
	if err != nil {
		return domain.SessionView{}, err
	}

	s.log.Info("opname session created",
		zap.String("session_id", session.ID.String()),
		zap.String("branch_id", session.BranchID.String()),
		zap.String("type", string(session.SessionType)),
		zap.String("session_date", session.SessionDate),
		zap.Int("total_expected", session.TotalExpected),
	)
	s.metrics.RecordTransition(ctx, "created")
	s.audit(ctx, principal, session.BranchID, "opname.session.created", "opname_session", session.ID, map[string]any{
		"type":           string(session.SessionType),
		"session_date":   session.SessionDate,
		"total_expected": session.TotalExpected,
		"assignees":      idStrings(assignees),
	})

	return s.view(ctx, s.db, principal, session)
}

func (s *Service) DeleteSession(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) error {
	var session domain.Session
	err := s.withTx(ctx, principal, func(tx *gorm.DB) error {
		var err error
		session, err = s.repo.LockSession(ctx, tx, sessionID)
		if err != nil {
			return s.hideMissing(principal, authorization.ActionDelete, err)
		}
		caps, err := s.capabilities(ctx, tx, principal, session)
		if err != nil {
			return err
		}
		if !caps.CanDelete {
			return s.deny(authorization.ActionDelete, session.BranchID)
		}
		if err := guard.EnsureDeletable(session.Status); err != nil {
			return err
		}
		return s.repo.DeleteSession(ctx, tx, sessionID)
	})
	if err != nil {
		return err
	}

	s.log.Info("opname session deleted", zap.String("session_id", sessionID.String()))
	s.metrics.RecordTransition(ctx, "deleted")
	s.audit(ctx, principal, session.BranchID, "opname.session.deleted", "opname_session", sessionID, map[string]any{
		"type":         string(session.SessionType),
		"session_date": session.SessionDate,
	})
	return nil
}

// Complete closes scanning. Notification runs after commit and never fails the call.
func (s *Service) Complete(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (domain.Session, error) {
	var session domain.Session
	now := s.now()
	err := s.withTx(ctx, principal, func(tx *gorm.DB) error {
		var err error
		session, err = s.repo.LockSession(ctx, tx, sessionID)
		if err != nil {
			return s.hideMissing(principal, authorization.ActionComplete, err)
		}
		caps, err := s.capabilities(ctx, tx, principal, session)
		if err != nil {
			return err
		}
		if !caps.CanComplete {
			return s.deny(authorization.ActionComplete, session.BranchID)
		}
		counters, err := s.repo.DeriveCounters(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := guard.EnsureCompletable(session.Status, counters.TotalScanned); err != nil {
			return err
		}

		completedBy := principal.StaffID
		if err := s.repo.UpdateSession(ctx, tx, sessionID, map[string]any{
			"status":       domain.SessionStatusCompleted,
			"completed_at": now,
			"completed_by": completedBy,
			"updated_at":   now,
		}); err != nil {
			return err
		}
		if session.Counters, err = s.refreshCounters(ctx, tx, sessionID, now); err != nil {
			return err
		}
		session.Status = domain.SessionStatusCompleted
		session.CompletedAt = &now
		session.CompletedBy = &completedBy
		session.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}

	s.log.Info("opname session completed",
		zap.String("session_id", session.ID.String()),
		zap.Int("total_scanned", session.TotalScanned),
		zap.Int("discrepancies", session.Counters.Discrepancies()),
	)
	s.metrics.RecordTransition(ctx, "completed")
	s.audit(ctx, principal, session.BranchID, "opname.session.completed", "opname_session", session.ID, map[string]any{
		"total_expected":     session.TotalExpected,
		"total_scanned":      session.TotalScanned,
		"total_matched":      session.TotalMatched,
		"total_missing":      session.TotalMissing,
		"total_unregistered": session.TotalUnregistered,
	})
	s.notifyCompleted(ctx, principal, session)

	return session, nil
}

// Lock approves a completed session once every discrepancy has a resolution.
func (s *Service) Lock(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (domain.Session, error) {
	var session domain.Session
	now := s.now()
	err := s.withTx(ctx, principal, func(tx *gorm.DB) error {
		var err error
		session, err = s.repo.LockSession(ctx, tx, sessionID)
		if err != nil {
			return s.hideMissing(principal, authorization.ActionLock, err)
		}
		caps, err := s.capabilities(ctx, tx, principal, session)
		if err != nil {
			return err
		}
		if !caps.CanLock {
			return s.deny(authorization.ActionLock, session.BranchID)
		}
		if err := guard.EnsureResolvable(session.Status); err != nil {
			return err
		}

		missing, unregistered, err := s.repo.CountUnresolved(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := guard.EnsureLockable(session.Status, missing, unregistered); err != nil {
			return err
		}

		approvedBy := principal.StaffID
		if err := s.repo.UpdateSession(ctx, tx, sessionID, map[string]any{
			"status":      domain.SessionStatusLocked,
			"approved_by": approvedBy,
			"approved_at": now,
			"locked_at":   now,
			"updated_at":  now,
		}); err != nil {
			return err
		}
		session.Status = domain.SessionStatusLocked
		session.ApprovedBy = &approvedBy
		session.ApprovedAt = &now
		session.LockedAt = &now
		session.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}

	s.log.Info("opname session locked", zap.String("session_id", session.ID.String()))
	s.metrics.RecordTransition(ctx, "locked")
	s.audit(ctx, principal, session.BranchID, "opname.session.locked", "opname_session", session.ID, nil)
	return session, nil
}

// validateAssignees returns the de-duplicated ids once each is confirmed to be
// assignable staff of the branch.
func (s *Service) validateAssignees(ctx context.Context, branchID snowflake.ID, ids []snowflake.ID) ([]snowflake.ID, error) {
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return nil, domain.ErrNoAssigneesSelected
	}
	members, err := s.staff.ListAssignable(ctx, branchID)
	if err != nil {
		return nil, err
	}
	assignable := make(map[snowflake.ID]struct{}, len(members))
	for _, m := range members {
		assignable[m.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := assignable[id]; !ok {
			return nil, domain.WithField(domain.ErrInvalidAssignee, "staff_id", id.String())
		}
	}
	return ids, nil
}

func idStrings(ids []snowflake.ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func sessionDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(sessionDateLayout)
}
