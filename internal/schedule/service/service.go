package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stockopname/internal/audit/domain"
	"github.com/smallbiznis/stockopname/internal/authorization"
	branchdomain "github.com/smallbiznis/stockopname/internal/branch/domain"
	"github.com/smallbiznis/stockopname/internal/clock"
	"github.com/smallbiznis/stockopname/internal/config"
	notificationdomain "github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/internal/schedule/domain"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"github.com/smallbiznis/stockopname/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const startTimeLayout = "15:04"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Policy   *config.PolicyConfigHolder
	Repo     domain.Repository
	Branches branchdomain.Lookup
	Staff    staffdomain.Directory
	Authz    authorization.Service
	Notifier notificationdomain.Dispatcher `optional:"true"`
	AuditSvc auditdomain.Service           `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	policy   *config.PolicyConfigHolder
	repo     domain.Repository
	branches branchdomain.Lookup
	staff    staffdomain.Directory
	authz    authorization.Service
	notifier notificationdomain.Dispatcher
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	svc := &Service{
		db:       p.DB,
		log:      p.Log.Named("schedule.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		policy:   p.Policy,
		repo:     p.Repo,
		branches: p.Branches,
		staff:    p.Staff,
		authz:    p.Authz,
		notifier: p.Notifier,
		auditSvc: p.AuditSvc,
	}
	if svc.clock == nil {
		svc.clock = clock.SystemClock{}
	}
	return svc
}

func (s *Service) Create(ctx context.Context, principal authorization.Principal, req domain.CreateScheduleRequest) (domain.Schedule, error) {
	if err := s.ensureManage(ctx, principal, req.BranchID); err != nil {
		return domain.Schedule{}, err
	}
	if !req.Type.Unique() {
		return domain.Schedule{}, domain.ErrInvalidScheduleType
	}
	startTime, err := normalizeStartTime(req.StartTime)
	if err != nil {
		return domain.Schedule{}, err
	}
	days, err := normalizeDays(req.DaysOfWeek)
	if err != nil {
		return domain.Schedule{}, err
	}

	now := s.clock.Now().UTC()
	schedule := domain.Schedule{
		ID:         s.genID.Generate(),
		BranchID:   req.BranchID,
		Type:       req.Type,
		StartTime:  startTime,
		DaysOfWeek: days,
		IsActive:   true,
		CreatedBy:  principal.StaffID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		branch, err := s.branches.LockByID(ctx, tx, req.BranchID)
		if err != nil {
			return err
		}
		if !branch.IsActive {
			return branchdomain.ErrBranchInactive
		}
		existing, err := s.repo.ListByBranch(ctx, tx, req.BranchID)
		if err != nil {
			return err
		}
		if len(existing) >= domain.MaxPerBranch {
			return domain.ErrScheduleLimitReached
		}
		for _, other := range existing {
			if other.Type == req.Type {
				return domain.ErrDuplicateScheduleType
			}
		}
		if err := s.repo.Insert(ctx, tx, &schedule); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateScheduleType
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Schedule{}, err
	}

	s.audit(ctx, principal, schedule, "opname.schedule.created", map[string]any{
		"type":       string(schedule.Type),
		"start_time": schedule.StartTime,
	})
	return schedule, nil
}

func (s *Service) List(ctx context.Context, principal authorization.Principal, branchID snowflake.ID) ([]domain.Schedule, error) {
	if !principal.InBranch(branchID) {
		s.authz.Denied(ctx, principal, authorization.ObjectSchedule, authorization.ActionView, &branchID)
		return nil, domain.ErrForbidden
	}
	rows, err := s.repo.ListByBranch(ctx, s.db, branchID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []domain.Schedule{}
	}
	return rows, nil
}

func (s *Service) Update(ctx context.Context, principal authorization.Principal, id snowflake.ID, req domain.UpdateScheduleRequest) (domain.Schedule, error) {
	current, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return domain.Schedule{}, err
	}
	if err := s.ensureManage(ctx, principal, current.BranchID); err != nil {
		return domain.Schedule{}, err
	}

	fields := map[string]any{}
	if req.StartTime != nil {
		startTime, err := normalizeStartTime(*req.StartTime)
		if err != nil {
			return domain.Schedule{}, err
		}
		fields["start_time"] = startTime
	}
	if req.DaysOfWeek != nil {
		days, err := normalizeDays(req.DaysOfWeek)
		if err != nil {
			return domain.Schedule{}, err
		}
		fields["days_of_week"] = datatypes.JSONSlice[int](days)
	}
	if req.IsActive != nil {
		fields["is_active"] = *req.IsActive
	}
	if len(fields) == 0 {
		return current, nil
	}
	fields["updated_at"] = s.clock.Now().UTC()

	if err := s.repo.Update(ctx, s.db, id, fields); err != nil {
		return domain.Schedule{}, err
	}
	updated, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return domain.Schedule{}, err
	}
	s.audit(ctx, principal, updated, "opname.schedule.updated", nil)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, principal authorization.Principal, id snowflake.ID) error {
	current, err := s.repo.Find(ctx, s.db, id)
	if err != nil {
		return err
	}
	if err := s.ensureManage(ctx, principal, current.BranchID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, s.db, id); err != nil {
		return err
	}
	s.audit(ctx, principal, current, "opname.schedule.deleted", nil)
	return nil
}

// DueReminders returns the schedules whose reminder time, lead before the
// local start time, falls in [now, now+window).
func (s *Service) DueReminders(ctx context.Context, now time.Time, lead, window time.Duration) ([]domain.DueSchedule, error) {
	if window <= 0 {
		return nil, nil
	}
	schedules, err := s.repo.ListActive(ctx, s.db)
	if err != nil {
		return nil, err
	}

	branches := map[snowflake.ID]*branchdomain.Branch{}
	var due []domain.DueSchedule
	for _, schedule := range schedules {
		branch, ok := branches[schedule.BranchID]
		if !ok {
			found, err := s.branches.FindByID(ctx, s.db, schedule.BranchID)
			if err != nil && !errors.Is(err, branchdomain.ErrBranchNotFound) {
				return nil, err
			}
			if err == nil {
				branch = &found
			}
			branches[schedule.BranchID] = branch
		}
		if branch == nil {
			continue
		}
		startsAt, ok := nextFire(schedule, s.branches.Location(*branch), now, lead, window)
		if !ok {
			continue
		}
		due = append(due, domain.DueSchedule{
			Schedule: schedule,
			Branch:   *branch,
			StartsAt: startsAt,
			FireKey:  startsAt.Format("2006-01-02"),
		})
	}
	return due, nil
}

// nextFire checks the local start on the day of now and the following day,
// which covers reminders whose lead crosses midnight.
func nextFire(schedule domain.Schedule, loc *time.Location, now time.Time, lead, window time.Duration) (time.Time, bool) {
	clockTime, err := time.Parse(startTimeLayout, schedule.StartTime)
	if err != nil {
		return time.Time{}, false
	}
	local := now.In(loc)
	for offset := 0; offset <= 1; offset++ {
		day := local.AddDate(0, 0, offset)
		startsAt := time.Date(day.Year(), day.Month(), day.Day(), clockTime.Hour(), clockTime.Minute(), 0, 0, loc)
		if !schedule.RunsOn(startsAt.Weekday()) {
			continue
		}
		fireAt := startsAt.Add(-lead)
		if !fireAt.Before(now) && fireAt.Before(now.Add(window)) {
			return startsAt, true
		}
	}
	return time.Time{}, false
}

// SendScheduleReminders notifies branch administrators of upcoming scheduled
// counts. Each schedule fires at most once per local date.
func (s *Service) SendScheduleReminders(ctx context.Context, window time.Duration) (int, error) {
	if s.notifier == nil {
		return 0, nil
	}
	now := s.clock.Now().UTC()
	lead := s.policy.Get().ReminderLead

	due, err := s.DueReminders(ctx, now, lead, window)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, item := range due {
		claimed, err := s.repo.ClaimReminder(ctx, s.db, domain.ReminderLog{
			ID:        s.genID.Generate(),
			Kind:      domain.ReminderKindSchedule,
			RefID:     item.Schedule.ID,
			FireKey:   item.FireKey,
			CreatedAt: now,
		})
		if err != nil {
			return sent, err
		}
		if !claimed {
			continue
		}

		branchID := item.Branch.ID
		admins, err := s.staff.ListByRole(ctx, authorization.RoleAdminBranch, &branchID)
		if err != nil {
			return sent, err
		}
		if len(admins) == 0 {
			continue
		}
		recipients := make([]snowflake.ID, 0, len(admins))
		for _, m := range admins {
			recipients = append(recipients, m.ID)
		}

		event := notificationdomain.Event{
			Type:       notificationdomain.EventScheduleReminder,
			BranchID:   branchID,
			Recipients: recipients,
			Title:      fmt.Sprintf("Stock opname %s at %s", item.Schedule.Type, item.Branch.Name),
			Body: fmt.Sprintf("The scheduled %s count at %s starts at %s. Create the session and assign staff before then.",
				item.Schedule.Type, item.Branch.Name, item.StartsAt.Format("15:04 MST")),
			Link: "/opname/sessions",
			Data: map[string]any{
				"schedule_id":  item.Schedule.ID.String(),
				"session_type": string(item.Schedule.Type),
				"start_time":   item.Schedule.StartTime,
				"date":         item.FireKey,
			},
			OccurredAt: now,
		}
		if err := s.notifier.Dispatch(ctx, event); err != nil {
			s.log.Warn("failed to dispatch schedule reminder",
				zap.String("schedule_id", item.Schedule.ID.String()),
				zap.Error(err),
			)
			continue
		}
		sent++
	}
	return sent, nil
}

func (s *Service) ensureManage(ctx context.Context, principal authorization.Principal, branchID snowflake.ID) error {
	if s.authz.EvaluateBranch(ctx, principal, branchID).CanManageSchedules {
		return nil
	}
	s.authz.Denied(ctx, principal, authorization.ObjectSchedule, authorization.ActionScheduleManage, &branchID)
	return domain.ErrForbidden
}

func (s *Service) audit(ctx context.Context, principal authorization.Principal, schedule domain.Schedule, action string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := principal.StaffID.String()
	target := schedule.ID.String()
	branchID := schedule.BranchID
	if err := s.auditSvc.AuditLog(ctx, &branchID, string(auditdomain.ActorTypeStaff), &actorID, action, "opname_schedule", &target, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func normalizeStartTime(raw string) (string, error) {
	parsed, err := time.Parse(startTimeLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", domain.ErrInvalidStartTime
	}
	return parsed.Format(startTimeLayout), nil
}

func normalizeDays(days []int) ([]int, error) {
	if len(days) == 0 {
		return nil, domain.ErrInvalidDaysOfWeek
	}
	seen := map[int]bool{}
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return nil, domain.ErrInvalidDaysOfWeek
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}
