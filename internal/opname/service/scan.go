package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/internal/opname/guard"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Scan records one identifier against the session snapshot.
func (s *Service) Scan(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, identifier string) (domain.ScanResponse, error) {
	var resp domain.ScanResponse
	now := s.now()
	err := s.withTx(ctx, principal, func(tx *gorm.DB) error {
		session, err := s.lockForScan(ctx, tx, principal, sessionID)
		if err != nil {
			return err
		}

		imei, err := guard.NormalizeIdentifier(identifier, s.policy.Get().MinIdentifierLength)
		if err != nil {
			return err
		}
		snapshot, err := s.repo.FindSnapshotItemByIMEI(ctx, tx, session.ID, imei)
		if err != nil {
			return err
		}

		item, inserted, err := s.recordScan(ctx, tx, principal, session.ID, imei, snapshot)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.WithField(domain.ErrDuplicateScan, "identifier", imei)
		}

		resp.Item = item
		resp.Result = domain.ScanOutcomeUnregistered
		if snapshot != nil {
			snapshot.ScanResult = domain.ScanResultMatch
			snapshot.UpdatedAt = now
			resp.Snapshot = snapshot
			resp.Result = domain.ScanOutcomeMatch
		}
		resp.Counters, err = s.refreshCounters(ctx, tx, session.ID, now)
		return err
	})
	if err != nil {
		s.metrics.RecordScan(ctx, scanErrorOutcome(err))
		return domain.ScanResponse{}, err
	}

	s.metrics.RecordScan(ctx, string(resp.Result))
	s.log.Debug("identifier scanned",
		zap.String("session_id", sessionID.String()),
		zap.String("result", string(resp.Result)),
		zap.String("staff_id", principal.StaffID.String()),
	)
	return resp, nil
}

// BatchScan processes identifiers in order inside one transaction. Per-item
// problems are reported in the result and never abort the batch.
func (s *Service) BatchScan(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, identifiers []string) (domain.BatchScanResponse, error) {
	var resp domain.BatchScanResponse
	now := s.now()
	policy := s.policy.Get()
	err := s.withTx(ctx, principal, func(tx *gorm.DB) error {
		session, err := s.lockForScan(ctx, tx, principal, sessionID)
		if err != nil {
			return err
		}
		if len(identifiers) == 0 {
			return domain.ErrEmptyBatch
		}
		if policy.MaxBatchSize > 0 && len(identifiers) > policy.MaxBatchSize {
			return domain.WithDetail(domain.ErrBatchTooLarge, map[string]any{
				"limit": policy.MaxBatchSize,
				"size":  len(identifiers),
			})
		}

		snapshot, err := s.repo.ListSnapshotItems(ctx, tx, session.ID, domain.ItemFilter{})
		if err != nil {
			return err
		}
		byIMEI := make(map[string]*domain.SnapshotItem, len(snapshot))
		for i := range snapshot {
			byIMEI[snapshot[i].IMEI] = &snapshot[i]
		}

		seen := make(map[string]struct{}, len(identifiers))
		resp.Items = make([]domain.BatchItemResult, 0, len(identifiers))
		for _, raw := range identifiers {
			result := domain.BatchItemResult{Identifier: strings.TrimSpace(raw)}

			imei, err := guard.NormalizeIdentifier(raw, policy.MinIdentifierLength)
			if err != nil {
				result.Result = domain.ScanOutcomeInvalid
				resp.Add(result)
				continue
			}
			if _, dup := seen[imei]; dup {
				result.Result = domain.ScanOutcomeDuplicate
				resp.Add(result)
				continue
			}
			seen[imei] = struct{}{}

			match := byIMEI[imei]
			item, inserted, err := s.recordScan(ctx, tx, principal, session.ID, imei, match)
			if err != nil {
				return err
			}
			switch {
			case !inserted:
				result.Result = domain.ScanOutcomeDuplicate
			case match != nil:
				result.Result = domain.ScanOutcomeMatch
			default:
				result.Result = domain.ScanOutcomeUnregistered
			}
			if inserted {
				id := item.ID.String()
				result.ItemID = &id
			}
			resp.Add(result)
		}

		resp.Counters, err = s.refreshCounters(ctx, tx, session.ID, now)
		return err
	})
	if err != nil {
		return domain.BatchScanResponse{}, err
	}

	for _, item := range resp.Items {
		s.metrics.RecordScan(ctx, string(item.Result))
	}
	s.log.Info("batch scan processed",
		zap.String("session_id", sessionID.String()),
		zap.Int("size", len(identifiers)),
		zap.Int("match", resp.Summary.Match),
		zap.Int("unregistered", resp.Summary.Unregistered),
		zap.Int("duplicate", resp.Summary.Duplicate),
		zap.Int("invalid", resp.Summary.Invalid),
	)
	return resp, nil
}

// DeleteScan undoes a scan while the session is still a draft.
func (s *Service) DeleteScan(ctx context.Context, principal authorization.Principal, sessionID, scannedItemID snowflake.ID) (domain.Counters, error) {
	var (
		counters domain.Counters
		session  domain.Session
		item     domain.ScannedItem
	)
	now := s.now()
	err := s.withTx(ctx, principal, func(tx *gorm.DB) error {
		var err error
		session, err = s.lockForScan(ctx, tx, principal, sessionID)
		if err != nil {
			return err
		}
		item, err = s.repo.FindScannedItem(ctx, tx, sessionID, scannedItemID)
		if err != nil {
			return err
		}
		if err := s.repo.DeleteScannedItem(ctx, tx, item.ID); err != nil {
			return err
		}
		if item.ScanResult == domain.ScanResultMatch {
			snapshot, err := s.repo.FindSnapshotItemByIMEI(ctx, tx, sessionID, item.IMEI)
			if err != nil {
				return err
			}
			if snapshot != nil {
				if err := s.repo.SetSnapshotResult(ctx, tx, snapshot.ID, domain.ScanResultMissing, now); err != nil {
					return err
				}
			}
		}
		counters, err = s.refreshCounters(ctx, tx, sessionID, now)
		return err
	})
	if err != nil {
		return domain.Counters{}, err
	}

	s.audit(ctx, principal, session.BranchID, "opname.scan.deleted", "opname_scanned_item", item.ID, map[string]any{
		"session_id":  sessionID.String(),
		"scan_result": string(item.ScanResult),
	})
	return counters, nil
}

// lockForScan takes the session row lock, then checks capability before state.
func (s *Service) lockForScan(ctx context.Context, tx *gorm.DB, principal authorization.Principal, sessionID snowflake.ID) (domain.Session, error) {
	session, err := s.repo.LockSession(ctx, tx, sessionID)
	if err != nil {
		return domain.Session{}, s.hideMissing(principal, authorization.ActionScan, err)
	}
	caps, err := s.capabilities(ctx, tx, principal, session)
	if err != nil {
		return domain.Session{}, err
	}
	if !caps.CanScan {
		return domain.Session{}, s.deny(authorization.ActionScan, session.BranchID)
	}
	if err := guard.EnsureScannable(session.Status); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// recordScan inserts the scanned row and flips a matching snapshot item.
// inserted is false when the identifier was already scanned in the session.
func (s *Service) recordScan(ctx context.Context, tx *gorm.DB, principal authorization.Principal, sessionID snowflake.ID, imei string, snapshot *domain.SnapshotItem) (domain.ScannedItem, bool, error) {
	now := s.now()
	item := domain.ScannedItem{
		ID:         s.genID.Generate(),
		SessionID:  sessionID,
		IMEI:       imei,
		ScanResult: domain.ScanResultUnregistered,
		ScannedBy:  principal.StaffID,
		ScannedAt:  now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if snapshot != nil {
		item.ScanResult = domain.ScanResultMatch
	}

	inserted, err := s.repo.InsertScan(ctx, tx, &item)
	if err != nil || !inserted {
		return domain.ScannedItem{}, false, err
	}
	if snapshot != nil {
		if err := s.repo.SetSnapshotResult(ctx, tx, snapshot.ID, domain.ScanResultMatch, now); err != nil {
			return domain.ScannedItem{}, false, err
		}
	}
	return item, true, nil
}

func scanErrorOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicateScan):
		return string(domain.ScanOutcomeDuplicate)
	case errors.Is(err, domain.ErrInvalidIdentifier):
		return string(domain.ScanOutcomeInvalid)
	default:
		return "rejected"
	}
}
