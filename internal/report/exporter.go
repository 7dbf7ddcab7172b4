package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/stockopname/internal/authorization"
	branchdomain "github.com/smallbiznis/stockopname/internal/branch/domain"
	opnamedomain "github.com/smallbiznis/stockopname/internal/opname/domain"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"github.com/xuri/excelize/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sheetSummary  = "Summary"
	sheetSnapshot = "Snapshot"
	sheetScanned  = "Scanned"

	timeLayout = "2006-01-02 15:04:05"
)

// ContentType is the media type of exported workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Exporter interface {
	// ExportSession writes the session workbook to w and returns a suggested file name.
	ExportSession(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, w io.Writer) (string, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Opname   opnamedomain.Service
	Branches branchdomain.Lookup
	Staff    staffdomain.Directory
	Authz    authorization.Service
}

type exporter struct {
	db       *gorm.DB
	log      *zap.Logger
	opname   opnamedomain.Service
	branches branchdomain.Lookup
	staff    staffdomain.Directory
	authz    authorization.Service
}

func New(p Params) Exporter {
	return &exporter{
		db:       p.DB,
		log:      p.Log.Named("report.exporter"),
		opname:   p.Opname,
		branches: p.Branches,
		staff:    p.Staff,
		authz:    p.Authz,
	}
}

type valuation struct {
	Selling decimal.Decimal
	Cost    decimal.Decimal
}

func (v *valuation) add(item opnamedomain.SnapshotItem) {
	v.Selling = v.Selling.Add(item.SellingPrice)
	v.Cost = v.Cost.Add(item.CostPrice)
}

func (e *exporter) ExportSession(ctx context.Context, principal authorization.Principal, sessionID snowflake.ID, w io.Writer) (string, error) {
	view, err := e.opname.GetSession(ctx, principal, sessionID)
	if err != nil {
		return "", err
	}
	session := view.Session
	if !view.Capabilities.CanExport {
		e.authz.Denied(ctx, principal, authorization.ObjectSession, authorization.ActionExport, &session.BranchID)
		return "", opnamedomain.ErrForbidden
	}

	snapshot, err := e.opname.ListSnapshotItems(ctx, principal, sessionID, opnamedomain.ItemFilter{})
	if err != nil {
		return "", err
	}
	scanned, err := e.opname.ListScannedItems(ctx, principal, sessionID, opnamedomain.ItemFilter{})
	if err != nil {
		return "", err
	}
	branch, err := e.branches.FindByID(ctx, e.db, session.BranchID)
	if err != nil {
		return "", err
	}
	loc := e.branches.Location(branch)
	names, err := e.staff.DisplayNames(ctx, staffIDs(session, snapshot, scanned))
	if err != nil {
		return "", err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheetSummary); err != nil {
		return "", err
	}
	if err := writeSummary(f, view, branch, loc, names, snapshot); err != nil {
		return "", err
	}
	if _, err := f.NewSheet(sheetSnapshot); err != nil {
		return "", err
	}
	if err := writeSnapshot(f, snapshot, loc, names); err != nil {
		return "", err
	}
	if _, err := f.NewSheet(sheetScanned); err != nil {
		return "", err
	}
	if err := writeScanned(f, scanned, loc, names); err != nil {
		return "", err
	}

	if err := f.Write(w); err != nil {
		return "", err
	}
	e.log.Info("session exported",
		zap.String("session_id", session.ID.String()),
		zap.Int("snapshot_items", len(snapshot)),
		zap.Int("scanned_items", len(scanned)),
	)
	return fmt.Sprintf("opname-%s-%s-%s.xlsx", branch.Code, session.SessionDate, session.SessionType), nil
}

func writeSummary(f *excelize.File, view opnamedomain.SessionView, branch branchdomain.Branch, loc *time.Location, names map[snowflake.ID]string, snapshot []opnamedomain.SnapshotItem) error {
	session := view.Session
	var expected, missing valuation
	for _, item := range snapshot {
		expected.add(item)
		if item.ScanResult == opnamedomain.ScanResultMissing {
			missing.add(item)
		}
	}
	assignees := ""
	for i, a := range view.Assignees {
		if i > 0 {
			assignees += ", "
		}
		assignees += a.Name
	}

	rows := [][]any{
		{"Branch", branch.Name},
		{"Branch code", branch.Code},
		{"Session type", string(session.SessionType)},
		{"Status", string(session.Status)},
		{"Session date", session.SessionDate},
		{"Started at", formatTime(&session.StartedAt, loc)},
		{"Completed at", formatTime(session.CompletedAt, loc)},
		{"Completed by", nameOf(names, session.CompletedBy)},
		{"Locked at", formatTime(session.LockedAt, loc)},
		{"Approved by", nameOf(names, session.ApprovedBy)},
		{"Assignees", assignees},
		{"Notes", session.Notes},
		{},
		{"Expected", session.TotalExpected},
		{"Scanned", session.TotalScanned},
		{"Matched", session.TotalMatched},
		{"Missing", session.TotalMissing},
		{"Unregistered", session.TotalUnregistered},
		{"Discrepancies", session.Discrepancies()},
		{},
		{"Expected value (selling)", expected.Selling.InexactFloat64()},
		{"Expected value (cost)", expected.Cost.InexactFloat64()},
		{"Missing value (selling)", missing.Selling.InexactFloat64()},
		{"Missing value (cost)", missing.Cost.InexactFloat64()},
	}
	return writeRows(f, sheetSummary, rows)
}

func writeSnapshot(f *excelize.File, items []opnamedomain.SnapshotItem, loc *time.Location, names map[snowflake.ID]string) error {
	rows := make([][]any, 0, len(items)+1)
	rows = append(rows, []any{"IMEI", "Product", "Selling price", "Cost price", "Stock status", "Result", "Action", "Notes", "Reference", "Resolved by", "Resolved at"})
	for _, item := range items {
		rows = append(rows, []any{
			item.IMEI,
			item.ProductLabel,
			item.SellingPrice.InexactFloat64(),
			item.CostPrice.InexactFloat64(),
			item.StockStatus,
			string(item.ScanResult),
			deref(item.ActionTaken),
			deref(item.ActionNotes),
			deref(item.SoldReferenceID),
			nameOf(names, item.ResolvedBy),
			formatTime(item.ResolvedAt, loc),
		})
	}
	return writeRows(f, sheetSnapshot, rows)
}

func writeScanned(f *excelize.File, items []opnamedomain.ScannedItem, loc *time.Location, names map[snowflake.ID]string) error {
	rows := make([][]any, 0, len(items)+1)
	rows = append(rows, []any{"IMEI", "Result", "Scanned by", "Scanned at", "Action", "Notes", "Resolved by", "Resolved at"})
	for _, item := range items {
		scannedBy := item.ScannedBy
		rows = append(rows, []any{
			item.IMEI,
			string(item.ScanResult),
			nameOf(names, &scannedBy),
			formatTime(&item.ScannedAt, loc),
			deref(item.ActionTaken),
			deref(item.ActionNotes),
			nameOf(names, item.ResolvedBy),
			formatTime(item.ResolvedAt, loc),
		})
	}
	return writeRows(f, sheetScanned, rows)
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

func staffIDs(session opnamedomain.Session, snapshot []opnamedomain.SnapshotItem, scanned []opnamedomain.ScannedItem) []snowflake.ID {
	seen := map[snowflake.ID]struct{}{}
	var ids []snowflake.ID
	add := func(id *snowflake.ID) {
		if id == nil || *id == 0 {
			return
		}
		if _, ok := seen[*id]; ok {
			return
		}
		seen[*id] = struct{}{}
		ids = append(ids, *id)
	}
	add(session.CompletedBy)
	add(session.ApprovedBy)
	for _, item := range snapshot {
		add(item.ResolvedBy)
	}
	for i := range scanned {
		add(&scanned[i].ScannedBy)
		add(scanned[i].ResolvedBy)
	}
	return ids
}

func nameOf(names map[snowflake.ID]string, id *snowflake.ID) string {
	if id == nil {
		return ""
	}
	if name, ok := names[*id]; ok {
		return name
	}
	return id.String()
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(loc).Format(timeLayout)
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
