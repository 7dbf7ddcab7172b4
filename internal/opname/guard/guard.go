package guard

import (
	"strings"

	"github.com/smallbiznis/stockopname/internal/opname/domain"
)

// EnsureDailyPolicy applies the per-branch daily rules to the sessions already
// created on the same calendar day.
func EnsureDailyPolicy(existing []domain.SessionType, requested domain.SessionType, cap int) error {
	if !requested.Valid() {
		return domain.WithField(domain.ErrInvalidSessionType, "type", string(requested))
	}
	if cap > 0 && len(existing) >= cap {
		return domain.WithDetail(domain.ErrDailyLimitExceeded, map[string]any{
			"limit":    cap,
			"existing": len(existing),
		})
	}
	if !requested.Unique() {
		return nil
	}
	for _, t := range existing {
		if t == requested {
			return domain.WithField(domain.ErrDuplicateSessionType, "type", string(requested))
		}
	}
	return nil
}

func EnsureScannable(status domain.SessionStatus) error {
	switch status {
	case domain.SessionStatusDraft:
		return nil
	case domain.SessionStatusLocked:
		return domain.ErrSessionLocked
	default:
		return domain.ErrSessionNotDraft
	}
}

func EnsureCompletable(status domain.SessionStatus, scanned int) error {
	if err := EnsureScannable(status); err != nil {
		return err
	}
	if scanned <= 0 {
		return domain.ErrNothingScanned
	}
	return nil
}

func EnsureResolvable(status domain.SessionStatus) error {
	switch status {
	case domain.SessionStatusCompleted:
		return nil
	case domain.SessionStatusLocked:
		return domain.ErrSessionLocked
	default:
		return domain.ErrSessionNotCompleted
	}
}

func EnsureLockable(status domain.SessionStatus, missingUnresolved, unregisteredUnresolved int) error {
	if err := EnsureResolvable(status); err != nil {
		return err
	}
	if missingUnresolved > 0 || unregisteredUnresolved > 0 {
		return domain.WithDetail(domain.ErrUnresolvedDiscrepancies, map[string]any{
			"missing_unresolved":      missingUnresolved,
			"unregistered_unresolved": unregisteredUnresolved,
		})
	}
	return nil
}

// EnsureDeletable only admits drafts; completed work is kept for the audit trail.
func EnsureDeletable(status domain.SessionStatus) error {
	return EnsureScannable(status)
}

func EnsureAssignable(status domain.SessionStatus) error {
	if status == domain.SessionStatusLocked {
		return domain.ErrSessionLocked
	}
	return nil
}

// NormalizeIdentifier trims the scanned value and checks it is a plausible unit identifier.
func NormalizeIdentifier(raw string, minLen int) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" || len(value) < minLen {
		return "", domain.WithField(domain.ErrInvalidIdentifier, "identifier", value)
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return "", domain.WithField(domain.ErrInvalidIdentifier, "identifier", value)
		}
	}
	return value, nil
}

func NormalizeSnapshotAction(raw string) (domain.SnapshotAction, error) {
	action := domain.SnapshotAction(strings.ToLower(strings.TrimSpace(raw)))
	switch action {
	case domain.SnapshotActionSoldTokopedia,
		domain.SnapshotActionSoldShopee,
		domain.SnapshotActionService,
		domain.SnapshotActionLost,
		domain.SnapshotActionAvailable:
		return action, nil
	default:
		return "", domain.WithField(domain.ErrInvalidAction, "action", raw)
	}
}

func NormalizeScannedAction(raw string) (domain.ScannedAction, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "ignore" {
		return domain.ScannedActionDiscard, nil
	}
	action := domain.ScannedAction(value)
	switch action {
	case domain.ScannedActionAddToStock,
		domain.ScannedActionMarkReturn,
		domain.ScannedActionDiscard,
		domain.ScannedActionInvestigate:
		return action, nil
	default:
		return "", domain.WithField(domain.ErrInvalidAction, "action", raw)
	}
}
