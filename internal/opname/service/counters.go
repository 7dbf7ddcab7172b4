package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecomputeCounters rebuilds the stored counters of one session from its child rows.
func (s *Service) RecomputeCounters(ctx context.Context, sessionID snowflake.ID) (domain.Counters, domain.Counters, error) {
	var before, after domain.Counters
	err := s.withTx(ctx, authorization.Principal{}, func(tx *gorm.DB) error {
		session, err := s.repo.LockSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		before = session.Counters
		after, err = s.refreshCounters(ctx, tx, sessionID, s.now())
		return err
	})
	if err != nil {
		return domain.Counters{}, domain.Counters{}, err
	}
	if before != after {
		s.log.Warn("opname counters drifted",
			zap.String("session_id", sessionID.String()),
			zap.Any("stored", before),
			zap.Any("derived", after),
		)
	}
	return before, after, nil
}

// RepairDriftedCounters repairs up to limit sessions whose stored counters
// disagree with their child rows.
func (s *Service) RepairDriftedCounters(ctx context.Context, limit int) (int, error) {
	ids, err := s.repo.ListDriftedSessionIDs(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}
	repaired := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		if _, _, err := s.RecomputeCounters(ctx, id); err != nil {
			s.log.Warn("failed to repair counters", zap.String("session_id", id.String()), zap.Error(err))
			continue
		}
		repaired++
	}
	if repaired > 0 {
		s.log.Info("opname counters repaired", zap.Int("sessions", repaired))
	}
	return repaired, nil
}
