package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	inventorydomain "github.com/smallbiznis/stockopname/internal/inventory/domain"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
)

// SalesSinceStart lists units the branch sold after the session started. It is
// advisory for resolvers and never changes any state.
func (s *Service) SalesSinceStart(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID) (domain.SalesSummary, error) {
	session, _, err := s.loadViewable(ctx, principal, sessionID)
	if err != nil {
		return domain.SalesSummary{}, err
	}

	units, err := s.inventory.ListSoldSince(ctx, s.db, session.BranchID, session.StartedAt)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	snapshot, err := s.repo.ListSnapshotItems(ctx, s.db, session.ID, domain.ItemFilter{})
	if err != nil {
		return domain.SalesSummary{}, err
	}
	inSnapshot := make(map[snowflake.ID]struct{}, len(snapshot))
	for _, item := range snapshot {
		inSnapshot[item.UnitID] = struct{}{}
	}

	counts := make(map[inventorydomain.SoldChannel]int, len(inventorydomain.SoldChannels))
	summary := domain.SalesSummary{
		Since: session.StartedAt,
		Total: len(units),
		Units: make([]domain.SoldUnit, 0, len(units)),
	}
	for _, unit := range units {
		channel := inventorydomain.SoldChannelPOS
		if unit.SoldChannel != nil && *unit.SoldChannel != "" {
			channel = *unit.SoldChannel
		}
		counts[channel]++

		sold := domain.SoldUnit{
			UnitID:       unit.ID,
			IMEI:         unit.IMEI,
			ProductLabel: unit.ProductLabel,
			Channel:      string(channel),
		}
		if unit.SoldAt != nil {
			sold.SoldAt = *unit.SoldAt
		}
		_, sold.InSnapshot = inSnapshot[unit.ID]
		summary.Units = append(summary.Units, sold)
	}

	summary.Channels = make([]domain.ChannelCount, 0, len(inventorydomain.SoldChannels))
	for _, channel := range inventorydomain.SoldChannels {
		summary.Channels = append(summary.Channels, domain.ChannelCount{
			Channel: string(channel),
			Count:   counts[channel],
		})
	}
	return summary, nil
}
