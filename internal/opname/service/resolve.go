package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	inventorydomain "github.com/smallbiznis/stockopname/internal/inventory/domain"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/internal/opname/guard"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResolveSnapshotItem records why a missing unit was not found and applies the
// matching status to the unit in the same transaction.
func (s *Service) ResolveSnapshotItem(ctx context.Context, principal authorization.Principal, sessionID, itemID snowflake.ID, req domain.ResolveSnapshotRequest) (domain.SnapshotItem, error) {
	var (
		item     domain.SnapshotItem
		session  domain.Session
		previous inventorydomain.StockUnit
	)
	now := s.now()
	err := s.withTx(ctx, principal, func(tx *gorm.DB) error {
		var err error
		session, err = s.lockForResolve(ctx, tx, principal, sessionID)
		if err != nil {
			return err
		}
		action, err := guard.NormalizeSnapshotAction(string(req.Action))
		if err != nil {
			return err
		}
		item, err = s.repo.FindSnapshotItem(ctx, tx, sessionID, itemID)
		if err != nil {
			return err
		}
		if item.ScanResult != domain.ScanResultMissing {
			return domain.WithField(domain.ErrNotDiscrepancy, "item_id", itemID.String())
		}

		res := domain.Resolution{
			Action:     string(action),
			Notes:      strings.TrimSpace(req.Note),
			ResolvedBy: principal.StaffID,
			ResolvedAt: now,
		}
		if action.IsSale() {
			res.ReferenceID = strings.TrimSpace(req.ExternalRef)
		}
		change := unitChange(item.UnitID, action, res)
		change.Expected = expectedStates(item)
		if err := s.repo.ResolveSnapshotItem(ctx, tx, item.ID, res); err != nil {
			return err
		}

		previous, err = s.inventory.ApplyDiscrepancyResolution(ctx, tx, change)
		if errors.Is(err, inventorydomain.ErrStatusChanged) {
			return statusChanged(item.UnitID, previous)
		}
		if err != nil {
			return err
		}

		item, err = s.repo.FindSnapshotItem(ctx, tx, sessionID, itemID)
		return err
	})
	if err != nil {
		return domain.SnapshotItem{}, err
	}

	s.log.Info("snapshot item resolved",
		zap.String("session_id", sessionID.String()),
		zap.String("item_id", itemID.String()),
		zap.String("action", derefString(item.ActionTaken)),
	)
	s.metrics.RecordResolution(ctx, "snapshot")
	s.audit(ctx, principal, session.BranchID, "opname.snapshot_item.resolved", "opname_snapshot_item", item.ID, map[string]any{
		"session_id":      sessionID.String(),
		"action":          derefString(item.ActionTaken),
		"unit_id":         item.UnitID.String(),
		"previous_status": string(previous.Status),
	})
	return item, nil
}

// ResolveScannedItem records the decision for an unregistered identifier.
// Stock intake is handled elsewhere, so inventory is left untouched.
func (s *Service) ResolveScannedItem(ctx context.Context, principal authorization.Principal, sessionID, itemID snowflake.ID, req domain.ResolveScannedRequest) (domain.ScannedItem, error) {
	var (
		item    domain.ScannedItem
		session domain.Session
	)
	now := s.now()
	err := s.withTx(ctx, principal, func(tx *gorm.DB) error {
		var err error
		session, err = s.lockForResolve(ctx, tx, principal, sessionID)
		if err != nil {
			return err
		}
		action, err := guard.NormalizeScannedAction(string(req.Action))
		if err != nil {
			return err
		}
		item, err = s.repo.FindScannedItem(ctx, tx, sessionID, itemID)
		if err != nil {
			return err
		}
		if item.ScanResult != domain.ScanResultUnregistered {
			return domain.WithField(domain.ErrNotDiscrepancy, "item_id", itemID.String())
		}

		if err := s.repo.ResolveScannedItem(ctx, tx, item.ID, domain.Resolution{
			Action:     string(action),
			Notes:      strings.TrimSpace(req.Note),
			ResolvedBy: principal.StaffID,
			ResolvedAt: now,
		}); err != nil {
			return err
		}

		item, err = s.repo.FindScannedItem(ctx, tx, sessionID, itemID)
		return err
	})
	if err != nil {
		return domain.ScannedItem{}, err
	}

	s.metrics.RecordResolution(ctx, "scanned")
	s.audit(ctx, principal, session.BranchID, "opname.scanned_item.resolved", "opname_scanned_item", item.ID, map[string]any{
		"session_id": sessionID.String(),
		"action":     derefString(item.ActionTaken),
		"imei":       item.IMEI,
	})
	return item, nil
}

func (s *Service) lockForResolve(ctx context.Context, tx *gorm.DB, principal authorization.Principal, sessionID snowflake.ID) (domain.Session, error) {
	session, err := s.repo.LockSession(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, s.hideMissing(principal, authorization.ActionResolve, err)
	}
	caps, err := s.capabilities(ctx, tx, principal, session)
	if err != nil {
		return domain.Session{}, err
	}
	if !caps.CanResolve {
		return domain.Session{}, s.deny(authorization.ActionResolve, session.BranchID)
	}
	if err := guard.EnsureResolvable(session.Status); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func unitChange(unitID snowflake.ID, action domain.SnapshotAction, res domain.Resolution) inventorydomain.ResolutionChange {
	change := inventorydomain.ResolutionChange{
		UnitID: unitID,
		At:     res.ResolvedAt,
	}
	switch action {
	case domain.SnapshotActionSoldTokopedia:
		change.Status = inventorydomain.UnitStatusSold
		change.Channel = inventorydomain.SoldChannelTokopedia
		change.ReferenceID = res.ReferenceID
	case domain.SnapshotActionSoldShopee:
		change.Status = inventorydomain.UnitStatusSold
		change.Channel = inventorydomain.SoldChannelShopee
		change.ReferenceID = res.ReferenceID
	case domain.SnapshotActionService:
		change.Status = inventorydomain.UnitStatusService
	case domain.SnapshotActionLost:
		change.Status = inventorydomain.UnitStatusLost
	default:
		change.Status = inventorydomain.UnitStatusAvailable
	}
	return change
}

// expectedStates lists the unit states a resolution may overwrite: the
// snapshot state, or the state this item's own earlier resolution applied.
func expectedStates(item domain.SnapshotItem) []inventorydomain.UnitState {
	states := []inventorydomain.UnitState{{Status: inventorydomain.UnitStatusAvailable}}
	if item.ActionTaken == nil {
		return states
	}
	prior, err := guard.NormalizeSnapshotAction(*item.ActionTaken)
	if err != nil {
		return states
	}
	change := unitChange(item.UnitID, prior, domain.Resolution{})
	return append(states, inventorydomain.UnitState{Status: change.Status, Channel: change.Channel})
}

func statusChanged(unitID snowflake.ID, unit inventorydomain.StockUnit) error {
	detail := map[string]any{"unit_status": string(unit.Status)}
	if unit.SoldChannel != nil {
		detail["sold_channel"] = string(*unit.SoldChannel)
	}
	return &domain.DetailError{
		Err:    domain.ErrUnitStatusChanged,
		Field:  "unit_id",
		Value:  unitID.String(),
		Detail: detail,
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
