package guard

import (
	"errors"
	"testing"

	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDailyPolicy(t *testing.T) {
	cases := []struct {
		name      string
		existing  []domain.SessionType
		requested domain.SessionType
		want      error
	}{
		{"first opening", nil, domain.SessionTypeOpening, nil},
		{"closing after opening", []domain.SessionType{domain.SessionTypeOpening}, domain.SessionTypeClosing, nil},
		{"second opening", []domain.SessionType{domain.SessionTypeOpening}, domain.SessionTypeOpening, domain.ErrDuplicateSessionType},
		{"adhoc after opening", []domain.SessionType{domain.SessionTypeOpening}, domain.SessionTypeAdhoc, nil},
		{"two adhoc", []domain.SessionType{domain.SessionTypeAdhoc}, domain.SessionTypeAdhoc, nil},
		{"third session", []domain.SessionType{domain.SessionTypeOpening, domain.SessionTypeClosing}, domain.SessionTypeAdhoc, domain.ErrDailyLimitExceeded},
		{"cap wins over duplicate", []domain.SessionType{domain.SessionTypeOpening, domain.SessionTypeAdhoc}, domain.SessionTypeOpening, domain.ErrDailyLimitExceeded},
		{"unknown type", nil, domain.SessionType("weekly"), domain.ErrInvalidSessionType},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := EnsureDailyPolicy(tc.existing, tc.requested, 2)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestEnsureDailyPolicyCapIsConfigurable(t *testing.T) {
	existing := []domain.SessionType{domain.SessionTypeOpening, domain.SessionTypeClosing}
	assert.NoError(t, EnsureDailyPolicy(existing, domain.SessionTypeAdhoc, 3))
}

func TestStateGuards(t *testing.T) {
	assert.NoError(t, EnsureScannable(domain.SessionStatusDraft))
	assert.ErrorIs(t, EnsureScannable(domain.SessionStatusCompleted), domain.ErrSessionNotDraft)
	assert.ErrorIs(t, EnsureScannable(domain.SessionStatusLocked), domain.ErrSessionLocked)

	assert.ErrorIs(t, EnsureCompletable(domain.SessionStatusDraft, 0), domain.ErrNothingScanned)
	assert.NoError(t, EnsureCompletable(domain.SessionStatusDraft, 1))
	assert.ErrorIs(t, EnsureCompletable(domain.SessionStatusLocked, 3), domain.ErrSessionLocked)

	assert.ErrorIs(t, EnsureResolvable(domain.SessionStatusDraft), domain.ErrSessionNotCompleted)
	assert.NoError(t, EnsureResolvable(domain.SessionStatusCompleted))
	assert.ErrorIs(t, EnsureResolvable(domain.SessionStatusLocked), domain.ErrSessionLocked)

	assert.ErrorIs(t, EnsureDeletable(domain.SessionStatusCompleted), domain.ErrSessionNotDraft)
	assert.NoError(t, EnsureAssignable(domain.SessionStatusCompleted))
	assert.ErrorIs(t, EnsureAssignable(domain.SessionStatusLocked), domain.ErrSessionLocked)
}

func TestEnsureLockableReportsUnresolvedCounts(t *testing.T) {
	err := EnsureLockable(domain.SessionStatusCompleted, 2, 1)
	require.ErrorIs(t, err, domain.ErrUnresolvedDiscrepancies)

	var detail *domain.DetailError
	require.True(t, errors.As(err, &detail))
	assert.Equal(t, 2, detail.Detail["missing_unresolved"])
	assert.Equal(t, 1, detail.Detail["unregistered_unresolved"])

	assert.NoError(t, EnsureLockable(domain.SessionStatusCompleted, 0, 0))
	assert.ErrorIs(t, EnsureLockable(domain.SessionStatusDraft, 0, 0), domain.ErrSessionNotCompleted)
}

func TestNormalizeIdentifier(t *testing.T) {
	got, err := NormalizeIdentifier("  356938035643809 ", 15)
	require.NoError(t, err)
	assert.Equal(t, "356938035643809", got)

	for _, raw := range []string{"", "   ", "12345", "35693803564380X", "３５６９３８０３５６４３８０９"} {
		_, err := NormalizeIdentifier(raw, 15)
		assert.ErrorIs(t, err, domain.ErrInvalidIdentifier, raw)
	}
}

func TestNormalizeActions(t *testing.T) {
	action, err := NormalizeSnapshotAction(" Sold_Ecommerce_Shopee ")
	require.NoError(t, err)
	assert.Equal(t, domain.SnapshotActionSoldShopee, action)

	_, err = NormalizeSnapshotAction("sold_pos")
	assert.ErrorIs(t, err, domain.ErrInvalidAction)

	scanned, err := NormalizeScannedAction("ignore")
	require.NoError(t, err)
	assert.Equal(t, domain.ScannedActionDiscard, scanned)

	_, err = NormalizeScannedAction("lost")
	assert.ErrorIs(t, err, domain.ErrInvalidAction)
}
