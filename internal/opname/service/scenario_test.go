package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/smallbiznis/stockopname/internal/authorization"
	"github.com/smallbiznis/stockopname/internal/inventory/domain"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// scenarioA scans 47 of 50 snapshot units plus 3 unknown identifiers.
func scenarioA(t *testing.T, f *fixture) opnamedomain.SessionView {
	t.Helper()
	ctx := context.Background()
	view := f.createSession(t, f.admin, opnamedomain.SessionTypeOpening)
	require.Equal(t, 50, view.TotalExpected)

	for i := 1; i <= 10; i++ {
		resp, err := f.svc.Scan(ctx, f.employee, view.ID, imei(i))
		require.NoError(t, err)
		require.Equal(t, opnamedomain.ScanOutcomeMatch, resp.Result)
	}

	batch := make([]string, 0, 40)
	for i := 11; i <= 47; i++ {
		batch = append(batch, imei(i))
	}
	batch = append(batch, stranger(1), stranger(2), stranger(3))
	resp, err := f.svc.BatchScan(ctx, f.employee, view.ID, batch)
	require.NoError(t, err)
	require.Equal(t, opnamedomain.BatchSummary{Match: 37, Unregistered: 3}, resp.Summary)
	return view
}

func TestScenarioACounters(t *testing.T) {
	f := newFixture(t, 50)
	view := scenarioA(t, f)

	counters := f.requireConsistent(t, view.ID)
	assert.Equal(t, opnamedomain.Counters{
		TotalExpected:     50,
		TotalScanned:      50,
		TotalMatched:      47,
		TotalMissing:      3,
		TotalUnregistered: 3,
	}, counters)
}

func TestScenarioBResolveCompleteLock(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	view := scenarioA(t, f)

	_, err := f.svc.Complete(ctx, f.employee, view.ID)
	require.NoError(t, err)

	missing, err := f.svc.ListSnapshotItems(ctx, f.admin, view.ID, opnamedomain.ItemFilter{UnresolvedOnly: true})
	require.NoError(t, err)
	require.Len(t, missing, 3)
	for _, item := range missing {
		resolved, err := f.svc.ResolveSnapshotItem(ctx, f.admin, view.ID, item.ID, opnamedomain.ResolveSnapshotRequest{
			Action: opnamedomain.SnapshotActionLost,
			Note:   "not on the shelf",
		})
		require.NoError(t, err)
		assert.True(t, resolved.Resolved())
	}

	unregistered, err := f.svc.ListScannedItems(ctx, f.admin, view.ID, opnamedomain.ItemFilter{UnresolvedOnly: true})
	require.NoError(t, err)
	require.Len(t, unregistered, 3)
	for _, item := range unregistered {
		_, err := f.svc.ResolveScannedItem(ctx, f.admin, view.ID, item.ID, opnamedomain.ResolveScannedRequest{
			Action: opnamedomain.ScannedActionDiscard,
		})
		require.NoError(t, err)
	}

	locked, err := f.svc.Lock(ctx, f.superAdmin, view.ID)
	require.NoError(t, err)
	assert.Equal(t, opnamedomain.SessionStatusLocked, locked.Status)
	require.NotNil(t, locked.ApprovedBy)
	assert.Equal(t, f.superAdmin.StaffID, *locked.ApprovedBy)

	for _, item := range missing {
		assert.Equal(t, domain.UnitStatusLost, f.unitStatus(t, item.UnitID))
	}
	assert.Equal(t, domain.UnitStatusAvailable, f.unitStatus(t, 10001))
}

func TestScenarioCLockBeforeResolving(t *testing.T) {
	f := newFixture(t, 50)
	ctx := context.Background()
	view := scenarioA(t, f)

	_, err := f.svc.Complete(ctx, f.employee, view.ID)
	require.NoError(t, err)

	_, err = f.svc.Lock(ctx, f.superAdmin, view.ID)
	require.ErrorIs(t, err, opnamedomain.ErrUnresolvedDiscrepancies)

	var detail *opnamedomain.DetailError
	require.True(t, errors.As(err, &detail))
	assert.Equal(t, 3, detail.Detail["missing_unresolved"])
	assert.Equal(t, 3, detail.Detail["unregistered_unresolved"])
	assert.Equal(t, opnamedomain.SessionStatusCompleted, f.storedSession(t, view.ID).Status)
}

// The fixture pins sqlite to one connection, so the two scans below run one
// after the other. TestScanLosesInsertRace covers the interleaving Postgres
// allows, where both pass the lookup and one insert hits the unique index.
func TestScenarioDConcurrentDuplicateScan(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()
	view := f.createSession(t, f.admin, opnamedomain.SessionTypeOpening, f.employee.StaffID, f.colleague.StaffID)

	for _, identifier := range []string{stranger(7), imei(2)} {
		var (
			wg      sync.WaitGroup
			results [2]opnamedomain.ScanResponse
			errs    [2]error
		)
		for i, principal := range []authorization.Principal{f.employee, f.colleague} {
			wg.Add(1)
			go func(i int, p authorization.Principal) {
				defer wg.Done()
				results[i], errs[i] = f.svc.Scan(ctx, p, view.ID, identifier)
			}(i, principal)
		}
		wg.Wait()

		succeeded, duplicates := 0, 0
		for i := range errs {
			switch {
			case errs[i] == nil:
				succeeded++
				assert.Contains(t, []opnamedomain.ScanOutcome{opnamedomain.ScanOutcomeMatch, opnamedomain.ScanOutcomeUnregistered}, results[i].Result)
			case errors.Is(errs[i], opnamedomain.ErrDuplicateScan):
				duplicates++
			default:
				t.Fatalf("unexpected error: %v", errs[i])
			}
		}
		assert.Equal(t, 1, succeeded, identifier)
		assert.Equal(t, 1, duplicates, identifier)
	}

	counters := f.requireConsistent(t, view.ID)
	assert.Equal(t, 2, counters.TotalScanned)
	assert.Equal(t, 1, counters.TotalMatched)
	assert.Equal(t, 1, counters.TotalUnregistered)
}

// lostInsertRace reports every scan insert as conflicting, the outcome of
// ON CONFLICT DO NOTHING when another transaction committed the row first.
type lostInsertRace struct {
	opnamedomain.Repository
}

func (lostInsertRace) InsertScan(context.Context, *gorm.DB, *opnamedomain.ScannedItem) (bool, error) {
	return false, nil
}

func TestScanLosesInsertRace(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	view := f.createSession(t, f.admin, opnamedomain.SessionTypeOpening)
	f.svc.repo = lostInsertRace{Repository: f.svc.repo}

	for _, identifier := range []string{imei(1), stranger(3)} {
		_, err := f.svc.Scan(ctx, f.employee, view.ID, identifier)
		require.ErrorIs(t, err, opnamedomain.ErrDuplicateScan, identifier)
		var detail *opnamedomain.DetailError
		require.True(t, errors.As(err, &detail))
		assert.Equal(t, "identifier", detail.Field)
		assert.Equal(t, identifier, detail.Value)
	}

	batch, err := f.svc.BatchScan(ctx, f.employee, view.ID, []string{imei(2)})
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
	assert.Equal(t, opnamedomain.ScanOutcomeDuplicate, batch.Items[0].Result)

	counters := f.requireConsistent(t, view.ID)
	assert.Zero(t, counters.TotalScanned)
	assert.Zero(t, counters.TotalMatched)
}
