package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
	"gorm.io/gorm"
)

func (s *Service) GetSession(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (domain.SessionView, error) {
	session, caps, err := s.loadViewable(ctx, principal, sessionID)
	if err != nil {
		return domain.SessionView{}, err
	}
	return s.viewWith(ctx, s.db, session, caps)
}

// Capabilities answers with no capabilities, rather than not found, for
// sessions the principal cannot see or that do not exist.
func (s *Service) Capabilities(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (authorization.Capabilities, error) {
	session, err := s.repo.FindSession(ctx, s.db, sessionID)
	if errors.Is(err, domain.ErrSessionNotFound) && !principal.IsSuperAdmin() {
		return authorization.Capabilities{}, nil
	}
	if err != nil {
		return authorization.Capabilities{}, err
	}
	return s.capabilities(ctx, s.db, principal, session)
}

func (s *Service) ListSessions(ctx context.Context, principal authorization.Principal, req domain.ListSessionsRequest) (domain.ListSessionsResponse, error) {
	filter := domain.ListSessionFilter{
		BranchID: req.BranchID,
		Status:   req.Status,
		Type:     req.Type,
		Limit:    req.Limit(),
	}

	switch principal.Role {
	case authorization.RoleSuperAdmin:
	case authorization.RoleAdminBranch, authorization.RoleEmployee:
		if principal.BranchID == nil {
			return domain.ListSessionsResponse{}, domain.ErrForbidden
		}
		if req.BranchID != nil && *req.BranchID != *principal.BranchID {
			return domain.ListSessionsResponse{}, s.report(ctx, principal, s.deny(authorization.ActionView, *req.BranchID))
		}
		filter.BranchID = principal.BranchID
		if principal.Role == authorization.RoleEmployee {
			staffID := principal.StaffID
			filter.AssignedTo = &staffID
		}
	default:
		return domain.ListSessionsResponse{}, domain.ErrForbidden
	}

	if req.Date != "" {
		if _, err := time.Parse(sessionDateLayout, req.Date); err != nil {
			return domain.ListSessionsResponse{}, domain.WithField(domain.ErrInvalidFilter, "date", req.Date)
		}
		filter.Date = req.Date
	}
	if req.Status != "" {
		switch req.Status {
		case domain.SessionStatusDraft, domain.SessionStatusCompleted, domain.SessionStatusLocked:
		default:
			return domain.ListSessionsResponse{}, domain.WithField(domain.ErrInvalidFilter, "status", string(req.Status))
		}
	}
	if req.Type != "" && !req.Type.Valid() {
		return domain.ListSessionsResponse{}, domain.WithField(domain.ErrInvalidFilter, "type", string(req.Type))
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.ListSessionsResponse{}, err
	}
	filter.Cursor = cursor

	rows, err := s.repo.ListSessions(ctx, s.db, filter)
	if err != nil {
		return domain.ListSessionsResponse{}, err
	}
	sessions, pageInfo := pagination.Trim(rows, filter.Limit, func(session domain.Session) pagination.Cursor {
		return pagination.Cursor{ID: session.ID.String(), CreatedAt: session.CreatedAt}
	})
	if sessions == nil {
		sessions = []domain.Session{}
	}
	return domain.ListSessionsResponse{PageInfo: pageInfo, Sessions: sessions}, nil
}

func (s *Service) ListScannedItems(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, filter domain.ItemFilter) ([]domain.ScannedItem, error) {
	if filter.ScanResult != "" && filter.ScanResult != domain.ScanResultMatch && filter.ScanResult != domain.ScanResultUnregistered {
		return nil, domain.WithField(domain.ErrInvalidFilter, "scan_result", string(filter.ScanResult))
	}
	if _, _, err := s.loadViewable(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListScannedItems(ctx, s.db, sessionID, filter)
}

func (s *Service) ListSnapshotItems(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, filter domain.ItemFilter) ([]domain.SnapshotItem, error) {
	if filter.ScanResult != "" && filter.ScanResult != domain.ScanResultMatch && filter.ScanResult != domain.ScanResultMissing {
		return nil, domain.WithField(domain.ErrInvalidFilter, "scan_result", string(filter.ScanResult))
	}
	if _, _, err := s.loadViewable(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListSnapshotItems(ctx, s.db, sessionID, filter)
}

func (s *Service) loadViewable(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (domain.Session, authorization.Capabilities, error) {
	session, err := s.repo.FindSession(ctx, s.db, sessionID)
	if err != nil {
		return domain.Session{}, authorization.Capabilities{}, s.report(ctx, principal, s.hideMissing(principal, authorization.ActionView, err))
	}
	caps, err := s.capabilities(ctx, s.db, principal, session)
	if err != nil {
		return domain.Session{}, authorization.Capabilities{}, err
	}
	if !caps.CanView {
		return domain.Session{}, authorization.Capabilities{}, s.report(ctx, principal, s.deny(authorization.ActionView, session.BranchID))
	}
	return session, caps, nil
}

func (s *Service) view(ctx context.Context, conn *gorm.DB, principal authorization.Principal, session domain.Session) (domain.SessionView, error) {
	caps, err := s.capabilities(ctx, conn, principal, session)
	if err != nil {
		return domain.SessionView{}, err
	}
	return s.viewWith(ctx, conn, session, caps)
}

func (s *Service) viewWith(ctx context.Context, conn *gorm.DB, session domain.Session, caps authorization.Capabilities) (domain.SessionView, error) {
	assignees, err := s.assignees(ctx, conn, session.ID)
	if err != nil {
		return domain.SessionView{}, err
	}
	return domain.SessionView{
		Session:      session,
		Assignees:    assignees,
		Capabilities: caps,
	}, nil
}

func (s *Service) assignees(ctx context.Context, conn *gorm.DB, sessionID snowflake.ID) ([]domain.Assignee, error) {
	rows, err := s.repo.ListAssignments(ctx, conn, sessionID)
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.StaffID)
	}
	names, err := s.staff.DisplayNames(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Assignee, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Assignee{
			StaffID:    row.StaffID,
			Name:       names[row.StaffID],
			AssignedBy: row.AssignedBy,
			AssignedAt: row.CreatedAt,
		})
	}
	return out, nil
}
