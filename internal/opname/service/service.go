package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stockopname/internal/audit/domain"
	"github.com/smallbiznis/stockopname/internal/authorization"
	branchdomain "github.com/smallbiznis/stockopname/internal/branch/domain"
	"github.com/smallbiznis/stockopname/internal/clock"
	"github.com/smallbiznis/stockopname/internal/config"
	inventorydomain "github.com/smallbiznis/stockopname/internal/inventory/domain"
	notificationdomain "github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/internal/observability/metrics"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultNotifyTimeout = 10 * time.Second

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Cfg       config.Config
	Policy    *config.PolicyConfigHolder
	Repo      domain.Repository
	Inventory inventorydomain.Store
	Staff     staffdomain.Directory
	Branches  branchdomain.Lookup
	Authz     authorization.Service
	Notifier  notificationdomain.Dispatcher `optional:"true"`
	AuditSvc  auditdomain.Service           `optional:"true"`
	Metrics   *metrics.Metrics              `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	policy        *config.PolicyConfigHolder
	notifyTimeout time.Duration

	repo      domain.Repository
	inventory inventorydomain.Store
	staff     staffdomain.Directory
	branches  branchdomain.Lookup
	authz     authorization.Service
	notifier  notificationdomain.Dispatcher
	auditSvc  auditdomain.Service
	metrics   *metrics.Metrics

	pending sync.WaitGroup
}

func New(p Params) domain.Service {
	svc := &Service{
		db:            p.DB,
		log:           p.Log.Named("opname.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		policy:        p.Policy,
		notifyTimeout: p.Cfg.NotifyTimeout,

		repo:      p.Repo,
		inventory: p.Inventory,
		staff:     p.Staff,
		branches:  p.Branches,
		authz:     p.Authz,
		notifier:  p.Notifier,
		auditSvc:  p.AuditSvc,
		metrics:   p.Metrics,
	}
	if svc.clock == nil {
		svc.clock = clock.SystemClock{}
	}
	if svc.notifyTimeout <= 0 {
		svc.notifyTimeout = defaultNotifyTimeout
	}
	return svc
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// capabilities evaluates what the principal may do with the session.
// Assignment is only looked up for employees; nobody else depends on it.
func (s *Service) capabilities(ctx context.Context, conn *gorm.DB, principal authorization.Principal, session domain.Session) (authorization.Capabilities, error) {
	scope := authorization.SessionScope{
		SessionID: session.ID,
		BranchID:  session.BranchID,
		StartedAt: session.StartedAt,
	}
	if principal.Role == authorization.RoleEmployee {
		assigned, err := s.repo.IsAssigned(ctx, conn, session.ID, principal.StaffID)
		if err != nil {
			return authorization.Capabilities{}, err
		}
		scope.Assigned = assigned
	}
	return s.authz.Evaluate(ctx, principal, scope, s.now()), nil
}

// denial is returned from inside transactions; the attempt is recorded once
// the transaction has ended so the audit write never waits on its locks.
type denial struct {
	action   string
	branchID snowflake.ID
}

func (d *denial) Error() string { return domain.ErrForbidden.Error() }

func (d *denial) Unwrap() error { return domain.ErrForbidden }

func (s *Service) deny(action string, branchID snowflake.ID) error {
	return &denial{action: action, branchID: branchID}
}

// hideMissing turns a missing session into a denial for anyone but super
// admins, so callers cannot tell absent sessions from other branches' sessions.
func (s *Service) hideMissing(principal authorization.Principal, action string, err error) error {
	if !errors.Is(err, domain.ErrSessionNotFound) || principal.IsSuperAdmin() {
		return err
	}
	var branchID snowflake.ID
	if principal.BranchID != nil {
		branchID = *principal.BranchID
	}
	return s.deny(action, branchID)
}

// report records a denial and hides its details from the caller.
func (s *Service) report(ctx context.Context, principal authorization.Principal, err error) error {
	var d *denial
	if !errors.As(err, &d) {
		return err
	}
	s.authz.Denied(ctx, principal, authorization.ObjectSession, d.action, &d.branchID)
	return domain.ErrForbidden
}

func (s *Service) withTx(ctx context.Context, principal authorization.Principal, fn func(tx *gorm.DB) error) error {
	return s.report(ctx, principal, s.db.WithContext(ctx).Transaction(fn))
}

// refreshCounters stores counters derived from child rows of the session.
func (s *Service) refreshCounters(ctx context.Context, tx *gorm.DB, sessionID snowflake.ID, now time.Time) (domain.Counters, error) {
	counters, err := s.repo.DeriveCounters(ctx, tx, sessionID)
	if err != nil {
		return domain.Counters{}, err
	}
	err = s.repo.UpdateSession(ctx, tx, sessionID, map[string]any{
		"total_expected":     counters.TotalExpected,
		"total_scanned":      counters.TotalScanned,
		"total_matched":      counters.TotalMatched,
		"total_missing":      counters.TotalMissing,
		"total_unregistered": counters.TotalUnregistered,
		"updated_at":         now,
	})
	if err != nil {
		return domain.Counters{}, err
	}
	return counters, nil
}

func (s *Service) audit(ctx context.Context, principal authorization.Principal, branchID snowflake.ID, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := principal.StaffID.String()
	target := targetID.String()
	branch := branchID
	if err := s.auditSvc.AuditLog(ctx, &branch, string(auditdomain.ActorTypeStaff), &actorID, action, targetType, &target, metadata); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("target_id", target),
			zap.Error(err),
		)
	}
}

func dedupeIDs(ids []snowflake.ID) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(ids))
	out := make([]snowflake.ID, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
