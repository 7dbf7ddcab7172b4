package sink

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/internal/notification/repository"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// InApp writes one inbox row per recipient.
type InApp struct {
	db    *gorm.DB
	genID *snowflake.Node
	repo  repository.Repository
}

func NewInApp(db *gorm.DB, genID *snowflake.Node, repo repository.Repository) *InApp {
	return &InApp{db: db, genID: genID, repo: repo}
}

func (s *InApp) Name() string { return "inapp" }

func (s *InApp) Deliver(ctx context.Context, event domain.Event) error {
	payload := datatypes.JSONMap{}
	for k, v := range event.Data {
		payload[k] = v
	}
	if event.SessionID != nil {
		payload["session_id"] = event.SessionID.String()
	}
	payload["branch_id"] = event.BranchID.String()

	rows := make([]domain.Notification, 0, len(event.Recipients))
	for _, staffID := range event.Recipients {
		rows = append(rows, domain.Notification{
			ID:        s.genID.Generate(),
			StaffID:   staffID,
			Type:      string(event.Type),
			Title:     event.Title,
			Body:      event.Body,
			Link:      event.Link,
			Payload:   payload,
			CreatedAt: event.OccurredAt.UTC(),
		})
	}
	return s.repo.InsertMany(ctx, s.db, rows)
}
