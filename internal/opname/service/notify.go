package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	notificationdomain "github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"go.uber.org/zap"
)

func sessionLink(id snowflake.ID) string {
	return "/opname/sessions/" + id.String()
}

// notifyCompleted tells every super admin that a session is ready for review.
// It runs detached from the request and only logs failures.
func (s *Service) notifyCompleted(ctx context.Context, principal authorization.Principal, session domain.Session) {
	if s.notifier == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()

		admins, err := s.staff.ListByRole(ctx, authorization.RoleSuperAdmin, nil)
		if err != nil {
			s.log.Warn("failed to resolve completion recipients", zap.String("session_id", session.ID.String()), zap.Error(err))
			return
		}
		recipients := make([]snowflake.ID, 0, len(admins))
		for _, admin := range admins {
			recipients = append(recipients, admin.ID)
		}
		if len(recipients) == 0 {
			return
		}

		branchName := session.BranchID.String()
		if branch, err := s.branches.FindByID(ctx, s.db, session.BranchID); err == nil {
			branchName = branch.Name
		}
		completer := principal.Name
		if completer == "" {
			completer = principal.StaffID.String()
		}

		sessionID := session.ID
		actorID := principal.StaffID
		event := notificationdomain.Event{
			Type:       notificationdomain.EventSessionCompleted,
			BranchID:   session.BranchID,
			SessionID:  &sessionID,
			ActorID:    &actorID,
			Recipients: recipients,
			Title:      fmt.Sprintf("Stock opname completed at %s", branchName),
			Body: fmt.Sprintf("%s completed the %s session of %s with %d discrepancies.",
				completer, session.SessionType, session.SessionDate, session.Counters.Discrepancies()),
			Link: sessionLink(session.ID),
			Data: map[string]any{
				"branch_name":        branchName,
				"session_type":       string(session.SessionType),
				"session_date":       session.SessionDate,
				"notes":              session.Notes,
				"completed_by":       completer,
				"total_expected":     session.TotalExpected,
				"total_scanned":      session.TotalScanned,
				"total_matched":      session.TotalMatched,
				"total_missing":      session.TotalMissing,
				"total_unregistered": session.TotalUnregistered,
				"discrepancies":      session.Counters.Discrepancies(),
			},
			OccurredAt: s.now(),
		}
		if err := s.notifier.Dispatch(ctx, event); err != nil {
			s.log.Warn("failed to dispatch completion notification",
				zap.String("session_id", session.ID.String()),
				zap.Error(err),
			)
		}
	}()
}

// Drain waits for detached completion notifications to finish or ctx to end.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendSessionReminders notifies assignees of drafts starting within the
// reminder lead. Each session is claimed before sending so it is reminded once.
func (s *Service) SendSessionReminders(ctx context.Context, limit int) (int, error) {
	if s.notifier == nil {
		return 0, nil
	}
	now := s.now()
	lead := s.policy.Get().ReminderLead
	if lead <= 0 {
		return 0, nil
	}

	sessions, err := s.repo.ListUpcomingDrafts(ctx, s.db, now, now.Add(lead), limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, session := range sessions {
		claimed, err := s.repo.ClaimReminder(ctx, s.db, session.ID, now)
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}
		assignments, err := s.repo.ListAssignments(ctx, s.db, session.ID)
		if err != nil {
			return sent, err
		}
		if len(assignments) == 0 {
			continue
		}
		recipients := make([]snowflake.ID, 0, len(assignments))
		for _, a := range assignments {
			recipients = append(recipients, a.StaffID)
		}

		startsAt := session.StartedAt
		if branch, err := s.branches.FindByID(ctx, s.db, session.BranchID); err == nil {
			startsAt = startsAt.In(s.branches.Location(branch))
		}

		sessionID := session.ID
		event := notificationdomain.Event{
			Type:       notificationdomain.EventSessionReminder,
			BranchID:   session.BranchID,
			SessionID:  &sessionID,
			Recipients: recipients,
			Title:      fmt.Sprintf("Stock opname %s starts soon", session.SessionType),
			Body: fmt.Sprintf("The %s session of %s starts at %s.",
				session.SessionType, session.SessionDate, startsAt.Format("15:04 MST")),
			Link: sessionLink(session.ID),
			Data: map[string]any{
				"session_type": string(session.SessionType),
				"session_date": session.SessionDate,
				"started_at":   session.StartedAt,
			},
			OccurredAt: now,
		}

		dispatchCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
		err = s.notifier.Dispatch(dispatchCtx, event)
		cancel()
		if err != nil {
			s.log.Warn("failed to dispatch session reminder", zap.String("session_id", session.ID.String()), zap.Error(err))
			continue
		}
		sent++
	}
	return sent, nil
}
