package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/internal/clock"
	"github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/internal/notification/repository"
	"github.com/smallbiznis/stockopname/internal/observability/metrics"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidEvent = errors.New("invalid_notification_event")

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	Repo    repository.Repository
	Sinks   []domain.Sink    `group:"notification_sinks"`
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	repo    repository.Repository
	sinks   []domain.Sink
	metrics *metrics.Metrics
}

func New(p Params) domain.Service {
	sinks := make([]domain.Sink, 0, len(p.Sinks))
	for _, s := range p.Sinks {
		if s != nil {
			sinks = append(sinks, s)
		}
	}
	svc := &Service{
		db:      p.DB,
		log:     p.Log.Named("notification.service"),
		clock:   p.Clock,
		repo:    p.Repo,
		sinks:   sinks,
		metrics: p.Metrics,
	}
	if svc.clock == nil {
		svc.clock = clock.SystemClock{}
	}
	return svc
}

// Dispatch fans the event out to every sink. One failing sink does not stop
// the others; their errors are joined.
func (s *Service) Dispatch(ctx context.Context, event domain.Event) error {
	if event.Type == "" || event.BranchID == 0 {
		return ErrInvalidEvent
	}
	event.Recipients = uniqueRecipients(event.Recipients)
	if len(event.Recipients) == 0 {
		return nil
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now()
	}

	var errs []error
	for _, sink := range s.sinks {
		err := sink.Deliver(ctx, event)
		s.metrics.RecordNotification(ctx, sink.Name(), err)
		if err != nil {
			s.log.Warn("notification sink failed",
				zap.String("sink", sink.Name()),
				zap.String("type", string(event.Type)),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) Inbox(ctx context.Context, principal authorization.Principal, req domain.InboxRequest) (domain.InboxResponse, error) {
	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return domain.InboxResponse{}, err
	}
	limit := req.Limit()
	rows, err := s.repo.List(ctx, s.db, repository.ListFilter{
		StaffID:    principal.StaffID,
		UnreadOnly: req.UnreadOnly,
		Cursor:     cursor,
		Limit:      limit,
	})
	if err != nil {
		return domain.InboxResponse{}, err
	}
	items, pageInfo := pagination.Trim(rows, limit, func(n domain.Notification) pagination.Cursor {
		return pagination.Cursor{ID: n.ID.String(), CreatedAt: n.CreatedAt}
	})
	if items == nil {
		items = []domain.Notification{}
	}
	return domain.InboxResponse{PageInfo: pageInfo, Notifications: items}, nil
}

func (s *Service) MarkRead(ctx context.Context, principal authorization.Principal, id snowflake.ID) (domain.Notification, error) {
	return s.repo.MarkRead(ctx, s.db, principal.StaffID, id, s.clock.Now())
}

func uniqueRecipients(ids []snowflake.ID) []snowflake.ID {
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
