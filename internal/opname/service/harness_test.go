package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockopname/internal/authorization"
	branchdomain "github.com/smallbiznis/stockopname/internal/branch/domain"
	branchservice "github.com/smallbiznis/stockopname/internal/branch/service"
	"github.com/smallbiznis/stockopname/internal/clock"
	"github.com/smallbiznis/stockopname/internal/config"
	inventorydomain "github.com/smallbiznis/stockopname/internal/inventory/domain"
	inventoryrepo "github.com/smallbiznis/stockopname/internal/inventory/repository"
	"github.com/smallbiznis/stockopname/internal/migration"
	notificationdomain "github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/internal/opname/repository"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	staffservice "github.com/smallbiznis/stockopname/internal/staff/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	branchJakarta snowflake.ID = 1
	branchBandung snowflake.ID = 2
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []notificationdomain.Event
	err    error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event notificationdomain.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return d.err
}

func (d *recordingDispatcher) Events() []notificationdomain.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notificationdomain.Event(nil), d.events...)
}

type fixture struct {
	db       *gorm.DB
	svc      *Service
	clock    *clock.FakeClock
	notifier *recordingDispatcher

	superAdmin authorization.Principal
	admin      authorization.Principal
	employee   authorization.Principal
	colleague  authorization.Principal
	outsider   authorization.Principal
}

func newFixture(t *testing.T, units int) *fixture {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, migration.ApplySQLiteSchema(db))

	seedDirectory(t, db)
	seedUnits(t, db, branchJakarta, 0, units)
	seedUnits(t, db, branchBandung, 9000, 3)

	log := zap.NewNop()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	policy := config.NewStaticPolicyHolder(config.DefaultPolicy())
	fc := clock.NewFakeClock(time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC))
	notifier := &recordingDispatcher{}

	svc := New(Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     fc,
		Cfg:       config.Config{NotifyTimeout: time.Second},
		Policy:    policy,
		Repo:      repository.Provide(),
		Inventory: inventoryrepo.Provide(),
		Staff:     staffservice.New(staffservice.Params{DB: db, Log: log}),
		Branches:  branchservice.New(branchservice.Params{Log: log, Policy: policy}),
		Authz:     authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer}),
		Notifier:  notifier,
	}).(*Service)
	// Cleanups run last-in first-out: notifications drain before the database closes.
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, svc.Drain(ctx))
	})

	jakarta, bandung := branchJakarta, branchBandung
	return &fixture{
		db:         db,
		svc:        svc,
		clock:      fc,
		notifier:   notifier,
		superAdmin: authorization.Principal{StaffID: 100, Role: authorization.RoleSuperAdmin, Name: "Rina"},
		admin:      authorization.Principal{StaffID: 200, Role: authorization.RoleAdminBranch, BranchID: &jakarta, Name: "Budi"},
		employee:   authorization.Principal{StaffID: 300, Role: authorization.RoleEmployee, BranchID: &jakarta, Name: "Sari"},
		colleague:  authorization.Principal{StaffID: 301, Role: authorization.RoleEmployee, BranchID: &jakarta, Name: "Dewi"},
		outsider:   authorization.Principal{StaffID: 400, Role: authorization.RoleEmployee, BranchID: &bandung, Name: "Agus"},
	}
}

func seedDirectory(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Create(&[]branchdomain.Branch{
		{ID: branchJakarta, Code: "JKT", Name: "Jakarta", Timezone: "Asia/Jakarta", IsActive: true},
		{ID: branchBandung, Code: "BDG", Name: "Bandung", Timezone: "Asia/Jakarta", IsActive: true},
	}).Error)

	jakarta, bandung := branchJakarta, branchBandung
	require.NoError(t, db.Create(&[]staffdomain.Member{
		{ID: 100, Email: "rina@example.com", FullName: "Rina", Role: authorization.RoleSuperAdmin, IsActive: true},
		{ID: 200, Email: "budi@example.com", FullName: "Budi", Role: authorization.RoleAdminBranch, BranchID: &jakarta, IsActive: true},
		{ID: 300, Email: "sari@example.com", FullName: "Sari", Role: authorization.RoleEmployee, BranchID: &jakarta, IsActive: true},
		{ID: 301, Email: "dewi@example.com", FullName: "Dewi", Role: authorization.RoleEmployee, BranchID: &jakarta, IsActive: true},
		{ID: 400, Email: "agus@example.com", FullName: "Agus", Role: authorization.RoleEmployee, BranchID: &bandung, IsActive: true},
	}).Error)
}

func seedUnits(t *testing.T, db *gorm.DB, branchID snowflake.ID, offset, count int) {
	t.Helper()
	if count == 0 {
		return
	}
	units := make([]inventorydomain.StockUnit, 0, count)
	for i := 0; i < count; i++ {
		n := offset + i + 1
		units = append(units, inventorydomain.StockUnit{
			ID:           snowflake.ID(10000 + n),
			BranchID:     branchID,
			IMEI:         imei(n),
			ProductLabel: fmt.Sprintf("Phone %d", n),
			SellingPrice: decimal.NewFromInt(4500000),
			CostPrice:    decimal.NewFromInt(4000000),
			Status:       inventorydomain.UnitStatusAvailable,
		})
	}
	require.NoError(t, db.Create(&units).Error)
}

// imei builds the 15-digit identifier of seeded unit n.
func imei(n int) string {
	return fmt.Sprintf("3569380356%05d", n)
}

// stranger builds identifiers that are not part of any snapshot.
func stranger(n int) string {
	return fmt.Sprintf("8600000000%05d", n)
}

func (f *fixture) createSession(t *testing.T, principal authorization.Principal, sessionType domain.SessionType, assignees ...snowflake.ID) domain.SessionView {
	t.Helper()
	if len(assignees) == 0 {
		assignees = []snowflake.ID{f.employee.StaffID}
	}
	view, err := f.svc.CreateSession(context.Background(), principal, domain.CreateSessionRequest{
		BranchID:    branchJakarta,
		Type:        sessionType,
		AssigneeIDs: assignees,
	})
	require.NoError(t, err)
	return view
}

func (f *fixture) storedSession(t *testing.T, id snowflake.ID) domain.Session {
	t.Helper()
	session, err := repository.Provide().FindSession(context.Background(), f.db, id)
	require.NoError(t, err)
	return session
}

func (f *fixture) derived(t *testing.T, id snowflake.ID) domain.Counters {
	t.Helper()
	counters, err := repository.Provide().DeriveCounters(context.Background(), f.db, id)
	require.NoError(t, err)
	return counters
}

func (f *fixture) unitStatus(t *testing.T, unitID snowflake.ID) inventorydomain.UnitStatus {
	t.Helper()
	var unit inventorydomain.StockUnit
	require.NoError(t, f.db.Where("id = ?", unitID).Take(&unit).Error)
	return unit.Status
}

// requireConsistent checks stored counters against child rows.
func (f *fixture) requireConsistent(t *testing.T, id snowflake.ID) domain.Counters {
	t.Helper()
	stored := f.storedSession(t, id).Counters
	require.Equal(t, f.derived(t, id), stored)
	require.Equal(t, stored.TotalExpected, stored.TotalMatched+stored.TotalMissing)
	return stored
}
