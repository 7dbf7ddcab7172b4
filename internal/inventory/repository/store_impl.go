package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/inventory/domain"
	"github.com/smallbiznis/stockopname/pkg/db"
	"gorm.io/gorm"
)

type store struct{}

func Provide() domain.Store {
	return &store{}
}

func (s *store) ListAvailableByBranch(ctx context.Context, conn *gorm.DB, branchID snowflake.ID) ([]domain.StockUnit, error) {
	var units []domain.StockUnit
	err := conn.WithContext(ctx).
		Where("branch_id = ? AND status = ?", branchID, domain.UnitStatusAvailable).
		Order("id asc").
		Find(&units).Error
	if err != nil {
		return nil, err
	}
	return units, nil
}

func (s *store) ListSoldSince(ctx context.Context, conn *gorm.DB, branchID snowflake.ID, since time.Time) ([]domain.StockUnit, error) {
	var units []domain.StockUnit
	err := conn.WithContext(ctx).
		Where("branch_id = ? AND status = ? AND sold_at >= ?", branchID, domain.UnitStatusSold, since.UTC()).
		Order("sold_at asc, id asc").
		Find(&units).Error
	if err != nil {
		return nil, err
	}
	return units, nil
}

// ApplyDiscrepancyResolution must run inside the caller's transaction so the
// status write commits or rolls back together with the resolution record.
func (s *store) ApplyDiscrepancyResolution(ctx context.Context, conn *gorm.DB, change domain.ResolutionChange) (domain.StockUnit, error) {
	switch change.Status {
	case domain.UnitStatusAvailable, domain.UnitStatusSold, domain.UnitStatusService, domain.UnitStatusLost:
	default:
		return domain.StockUnit{}, domain.ErrInvalidStatus
	}

	var previous domain.StockUnit
	query := db.ForUpdate(conn, `SELECT * FROM stock_units WHERE id = ?`)
	res := conn.WithContext(ctx).Raw(query, change.UnitID).Scan(&previous)
	if res.Error != nil {
		return domain.StockUnit{}, res.Error
	}
	if res.RowsAffected == 0 || previous.ID == 0 {
		return domain.StockUnit{}, domain.ErrUnitNotFound
	}
	if !expected(change.Expected, previous) {
		return previous, domain.ErrStatusChanged
	}

	at := change.At.UTC()
	updates := map[string]any{
		"status":            change.Status,
		"sold_channel":      nil,
		"sold_reference_id": nil,
		"sold_at":           nil,
		"updated_at":        at,
	}
	if change.Status == domain.UnitStatusSold {
		updates["sold_channel"] = change.Channel
		updates["sold_at"] = at
		if change.ReferenceID != "" {
			updates["sold_reference_id"] = change.ReferenceID
		}
	}

	err := conn.WithContext(ctx).
		Model(&domain.StockUnit{}).
		Where("id = ?", change.UnitID).
		Updates(updates).Error
	if err != nil {
		return domain.StockUnit{}, err
	}
	return previous, nil
}

func expected(states []domain.UnitState, unit domain.StockUnit) bool {
	if len(states) == 0 {
		return true
	}
	for _, state := range states {
		if state.Matches(unit) {
			return true
		}
	}
	return false
}
