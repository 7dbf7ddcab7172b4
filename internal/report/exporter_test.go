package report

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockopname/internal/authorization"
	branchdomain "github.com/smallbiznis/stockopname/internal/branch/domain"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeOpname struct {
	opnamedomain.Service
	view     opnamedomain.SessionView
	snapshot []opnamedomain.SnapshotItem
	scanned  []opnamedomain.ScannedItem
}

func (f *fakeOpname) GetSession(context.Context, authorization.Principal, snowflake.ID) (opnamedomain.SessionView, error) {
	return f.view, nil
}

func (f *fakeOpname) ListSnapshotItems(context.Context, authorization.Principal, snowflake.ID, opnamedomain.ItemFilter) ([]opnamedomain.SnapshotItem, error) {
	return f.snapshot, nil
}

func (f *fakeOpname) ListScannedItems(context.Context, authorization.Principal, snowflake.ID, opnamedomain.ItemFilter) ([]opnamedomain.ScannedItem, error) {
	return f.scanned, nil
}

type fakeBranches struct{}

func (fakeBranches) FindByID(context.Context, *gorm.DB, snowflake.ID) (branchdomain.Branch, error) {
	return branchdomain.Branch{ID: 1, Code: "JKT", Name: "Jakarta", Timezone: "Asia/Jakarta", IsActive: true}, nil
}

func (fakeBranches) LockByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (branchdomain.Branch, error) {
	return fakeBranches{}.FindByID(ctx, tx, id)
}

func (fakeBranches) Location(branchdomain.Branch) *time.Location {
	return time.FixedZone("WIB", 7*3600)
}

type fakeStaff struct{ staffdomain.Directory }

func (fakeStaff) DisplayNames(_ context.Context, ids []snowflake.ID) (map[snowflake.ID]string, error) {
	names := map[snowflake.ID]string{300: "Sari", 200: "Budi"}
	out := map[snowflake.ID]string{}
	for _, id := range ids {
		if n, ok := names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

type recordingAuthz struct {
	authorization.Service
	denied []string
}

func (a *recordingAuthz) Denied(_ context.Context, _ authorization.Principal, object, action string, _ *snowflake.ID) {
	a.denied = append(a.denied, object+":"+action)
}

func strPtr(v string) *string { return &v }

func sampleSession(canExport bool) *fakeOpname {
	completedAt := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	completedBy := snowflake.ID(300)
	resolvedBy := snowflake.ID(200)
	session := opnamedomain.Session{
		ID:          42,
		BranchID:    1,
		SessionType: opnamedomain.SessionTypeOpening,
		Status:      opnamedomain.SessionStatusCompleted,
		SessionDate: "2026-03-02",
		StartedAt:   time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC),
		CompletedAt: &completedAt,
		CompletedBy: &completedBy,
		Counters: opnamedomain.Counters{
			TotalExpected: 3, TotalScanned: 3, TotalMatched: 2, TotalMissing: 1, TotalUnregistered: 1,
		},
	}
	price := func(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
	return &fakeOpname{
		view: opnamedomain.SessionView{
			Session:      session,
			Assignees:    []opnamedomain.Assignee{{StaffID: 300, Name: "Sari"}},
			Capabilities: authorization.Capabilities{CanView: true, CanExport: canExport},
		},
		snapshot: []opnamedomain.SnapshotItem{
			{IMEI: "356938035600001", ProductLabel: "Phone 1", SellingPrice: price(4500000), CostPrice: price(4000000), ScanResult: opnamedomain.ScanResultMatch},
			{IMEI: "356938035600002", ProductLabel: "Phone 2", SellingPrice: price(3000000), CostPrice: price(2500000), ScanResult: opnamedomain.ScanResultMatch},
			{IMEI: "356938035600003", ProductLabel: "Phone 3", SellingPrice: decimal.RequireFromString("1250000.50"), CostPrice: price(1000000),
				ScanResult: opnamedomain.ScanResultMissing, ActionTaken: strPtr("lost"), ResolvedBy: &resolvedBy},
		},
		scanned: []opnamedomain.ScannedItem{
			{IMEI: "356938035600001", ScanResult: opnamedomain.ScanResultMatch, ScannedBy: 300, ScannedAt: time.Date(2026, 3, 2, 2, 10, 0, 0, time.UTC)},
			{IMEI: "860000000000001", ScanResult: opnamedomain.ScanResultUnregistered, ScannedBy: 300, ScannedAt: time.Date(2026, 3, 2, 2, 11, 0, 0, time.UTC)},
		},
	}
}

func newExporter(op opnamedomain.Service, authz authorization.Service) Exporter {
	return New(Params{
		Log:      zap.NewNop(),
		Opname:   op,
		Branches: fakeBranches{},
		Staff:    fakeStaff{},
		Authz:    authz,
	})
}

func TestExportSessionWritesWorkbook(t *testing.T) {
	exp := newExporter(sampleSession(true), &recordingAuthz{})
	principal := authorization.Principal{StaffID: 100, Role: authorization.RoleSuperAdmin}

	var buf bytes.Buffer
	name, err := exp.ExportSession(context.Background(), principal, 42, &buf)
	require.NoError(t, err)
	assert.Equal(t, "opname-JKT-2026-03-02-opening.xlsx", name)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{"Summary", "Snapshot", "Scanned"}, f.GetSheetList())

	rows, err := f.GetRows("Summary")
	require.NoError(t, err)
	summary := map[string]string{}
	for _, row := range rows {
		if len(row) >= 2 {
			summary[row[0]] = row[1]
		}
	}
	assert.Equal(t, "Jakarta", summary["Branch"])
	assert.Equal(t, "Sari", summary["Completed by"])
	assert.Equal(t, "2026-03-02 10:00:00", summary["Completed at"])
	assert.Equal(t, "2", summary["Discrepancies"])
	assert.Equal(t, "8750000.5", summary["Expected value (selling)"])
	assert.Equal(t, "1250000.5", summary["Missing value (selling)"])

	value, err := f.GetCellValue("Snapshot", "G4")
	require.NoError(t, err)
	assert.Equal(t, "lost", value)
	value, err = f.GetCellValue("Snapshot", "J4")
	require.NoError(t, err)
	assert.Equal(t, "Budi", value)

	scanned, err := f.GetRows("Scanned")
	require.NoError(t, err)
	require.Len(t, scanned, 3)
	assert.Equal(t, []string{"860000000000001", "unregistered", "Sari", "2026-03-02 09:11:00"}, scanned[2][:4])
}

func TestExportSessionRequiresCapability(t *testing.T) {
	authz := &recordingAuthz{}
	exp := newExporter(sampleSession(false), authz)
	branch := snowflake.ID(1)
	principal := authorization.Principal{StaffID: 300, Role: authorization.RoleEmployee, BranchID: &branch}

	var buf bytes.Buffer
	_, err := exp.ExportSession(context.Background(), principal, 42, &buf)
	assert.ErrorIs(t, err, opnamedomain.ErrForbidden)
	assert.Zero(t, buf.Len())
	assert.Equal(t, []string{"opname_session:export"}, authz.denied)
}
