package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/pkg/db"
	"github.com/smallbiznis/stockopname/pkg/db/pagination"
	"gorm.io/gorm"
)

const snapshotBatchSize = 500

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSession(ctx context.Context, conn *gorm.DB, session *domain.Session) error {
	if session == nil {
		return nil
	}
	return conn.WithContext(ctx).Create(session).Error
}

func (r *repo) FindSession(ctx context.Context, conn *gorm.DB, id snowflake.ID) (domain.Session, error) {
	var session domain.Session
	err := conn.WithContext(ctx).Where("id = ?", id).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// LockSession serializes every mutation of a session behind its row lock.
func (r *repo) LockSession(ctx context.Context, tx *gorm.DB, id snowflake.ID) (domain.Session, error) {
	var session domain.Session
	query := db.ForUpdate(tx, `SELECT * FROM opname_sessions WHERE id = ?`)
	res := tx.WithContext(ctx).Raw(query, id).Scan(&session)
	if res.Error != nil {
		return domain.Session{}, res.Error
	}
	if res.RowsAffected == 0 || session.ID == 0 {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (r *repo) UpdateSession(ctx context.Context, tx *gorm.DB, id snowflake.ID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	res := tx.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes children explicitly; sqlite does not enforce the cascade.
func (r *repo) DeleteSession(ctx context.Context, tx *gorm.DB, id snowflake.ID) error {
	conn := tx.WithContext(ctx)
	for _, table := range []string{
		"opname_scanned_items",
		"opname_snapshot_items",
		"opname_session_assignments",
	} {
		if err := conn.Exec("DELETE FROM "+table+" WHERE session_id = ?", id).Error; err != nil {
			return err
		}
	}
	res := conn.Exec(`DELETE FROM opname_sessions WHERE id = ?`, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (r *repo) ListSessionTypesForDay(ctx context.Context, tx *gorm.DB, branchID snowflake.ID, date string) ([]domain.SessionType, error) {
	var types []domain.SessionType
	err := tx.WithContext(ctx).
		Model(&domain.Session{}).
		Where("branch_id = ? AND session_date = ?", branchID, date).
		Order("created_at asc").
		Pluck("session_type", &types).Error
	if err != nil {
		return nil, err
	}
	return types, nil
}

// ListSessions returns up to Limit+1 rows so the caller can tell whether another page exists.
func (r *repo) ListSessions(ctx context.Context, conn *gorm.DB, filter domain.ListSessionFilter) ([]domain.Session, error) {
	stmt := conn.WithContext(ctx).Model(&domain.Session{})

	if filter.BranchID != nil {
		stmt = stmt.Where("branch_id = ?", *filter.BranchID)
	}
	if filter.AssignedTo != nil {
		stmt = stmt.Where("id IN (SELECT session_id FROM opname_session_assignments WHERE staff_id = ?)", *filter.AssignedTo)
	}
	if v := strings.TrimSpace(filter.Date); v != "" {
		stmt = stmt.Where("session_date = ?", v)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		stmt = stmt.Where("session_type = ?", filter.Type)
	}
	if filter.Cursor != nil {
		cursorID, err := snowflake.ParseString(filter.Cursor.ID)
		if err != nil {
			return nil, pagination.ErrInvalidPageToken
		}
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt.UTC(),
			filter.Cursor.CreatedAt.UTC(),
			int64(cursorID),
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	var sessions []domain.Session
	if err := stmt.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *repo) InsertSnapshotItems(ctx context.Context, tx *gorm.DB, items []domain.SnapshotItem) error {
	if len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).CreateInBatches(items, snapshotBatchSize).Error
}

func (r *repo) FindSnapshotItem(ctx context.Context, conn *gorm.DB, sessionID, itemID snowflake.ID) (domain.SnapshotItem, error) {
	var item domain.SnapshotItem
	err := conn.WithContext(ctx).
		Where("id = ? AND session_id = ?", itemID, sessionID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.SnapshotItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.SnapshotItem{}, err
	}
	return item, nil
}

// FindSnapshotItemByIMEI returns nil when the identifier is not part of the snapshot.
func (r *repo) FindSnapshotItemByIMEI(ctx context.Context, conn *gorm.DB, sessionID snowflake.ID, imei string) (*domain.SnapshotItem, error) {
	var items []domain.SnapshotItem
	err := conn.WithContext(ctx).
		Where("session_id = ? AND imei = ?", sessionID, imei).
		Order("id asc").
		Limit(1).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

func (r *repo) SetSnapshotResult(ctx context.Context, tx *gorm.DB, itemID snowflake.ID, result domain.ScanResult, at time.Time) error {
	return tx.WithContext(ctx).
		Model(&domain.SnapshotItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"scan_result": result,
			"updated_at":  at.UTC(),
		}).Error
}

func (r *repo) ResolveSnapshotItem(ctx context.Context, tx *gorm.DB, itemID snowflake.ID, res domain.Resolution) error {
	return tx.WithContext(ctx).
		Model(&domain.SnapshotItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"action_taken":      res.Action,
			"action_notes":      nullable(res.Notes),
			"sold_reference_id": nullable(res.ReferenceID),
			"resolved_by":       res.ResolvedBy,
			"resolved_at":       res.ResolvedAt.UTC(),
			"updated_at":        res.ResolvedAt.UTC(),
		}).Error
}

func (r *repo) ListSnapshotItems(ctx context.Context, conn *gorm.DB, sessionID snowflake.ID, filter domain.ItemFilter) ([]domain.SnapshotItem, error) {
	stmt := conn.WithContext(ctx).Where("session_id = ?", sessionID)
	if filter.ScanResult != "" {
		stmt = stmt.Where("scan_result = ?", filter.ScanResult)
	}
	if filter.UnresolvedOnly {
		stmt = stmt.Where("scan_result = ?", domain.ScanResultMissing).
			Where("action_taken IS NULL OR action_taken = ''")
	}

	var items []domain.SnapshotItem
	if err := stmt.Order("imei asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// InsertScan relies on the (session_id, imei) unique key; it reports false when
// the identifier was already recorded for the session.
func (r *repo) InsertScan(ctx context.Context, tx *gorm.DB, item *domain.ScannedItem) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO opname_scanned_items (
			id, session_id, imei, scan_result, scanned_by, scanned_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, imei) DO NOTHING`,
		item.ID,
		item.SessionID,
		item.IMEI,
		item.ScanResult,
		item.ScannedBy,
		item.ScannedAt.UTC(),
		item.CreatedAt.UTC(),
		item.UpdatedAt.UTC(),
	)
	if res.Error != nil {
		if db.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindScannedItem(ctx context.Context, conn *gorm.DB, sessionID, itemID snowflake.ID) (domain.ScannedItem, error) {
	var item domain.ScannedItem
	err := conn.WithContext(ctx).
		Where("id = ? AND session_id = ?", itemID, sessionID).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ScannedItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.ScannedItem{}, err
	}
	return item, nil
}

func (r *repo) DeleteScannedItem(ctx context.Context, tx *gorm.DB, itemID snowflake.ID) error {
	res := tx.WithContext(ctx).Exec(`DELETE FROM opname_scanned_items WHERE id = ?`, itemID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

func (r *repo) ResolveScannedItem(ctx context.Context, tx *gorm.DB, itemID snowflake.ID, res domain.Resolution) error {
	return tx.WithContext(ctx).
		Model(&domain.ScannedItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{
			"action_taken": res.Action,
			"action_notes": nullable(res.Notes),
			"resolved_by":  res.ResolvedBy,
			"resolved_at":  res.ResolvedAt.UTC(),
			"updated_at":   res.ResolvedAt.UTC(),
		}).Error
}

func (r *repo) ListScannedItems(ctx context.Context, conn *gorm.DB, sessionID snowflake.ID, filter domain.ItemFilter) ([]domain.ScannedItem, error) {
	stmt := conn.WithContext(ctx).Where("session_id = ?", sessionID)
	if filter.ScanResult != "" {
		stmt = stmt.Where("scan_result = ?", filter.ScanResult)
	}
	if filter.UnresolvedOnly {
		stmt = stmt.Where("scan_result = ?", domain.ScanResultUnregistered).
			Where("action_taken IS NULL OR action_taken = ''")
	}

	var items []domain.ScannedItem
	if err := stmt.Order("scanned_at desc, id desc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

const deriveCountersSQL = `SELECT
	(SELECT COUNT(*) FROM opname_snapshot_items WHERE session_id = @id) AS total_expected,
	(SELECT COUNT(*) FROM opname_scanned_items WHERE session_id = @id) AS total_scanned,
	(SELECT COUNT(*) FROM opname_snapshot_items WHERE session_id = @id AND scan_result = 'match') AS total_matched,
	(SELECT COUNT(*) FROM opname_snapshot_items WHERE session_id = @id AND scan_result = 'missing') AS total_missing,
	(SELECT COUNT(*) FROM opname_scanned_items WHERE session_id = @id AND scan_result = 'unregistered') AS total_unregistered`

// DeriveCounters counts child rows; stored counters are only a cache of this.
func (r *repo) DeriveCounters(ctx context.Context, conn *gorm.DB, sessionID snowflake.ID) (domain.Counters, error) {
	var counters domain.Counters
	err := conn.WithContext(ctx).
		Raw(deriveCountersSQL, map[string]any{"id": sessionID}).
		Scan(&counters).Error
	if err != nil {
		return domain.Counters{}, err
	}
	return counters, nil
}

func (r *repo) CountUnresolved(ctx context.Context, conn *gorm.DB, sessionID snowflake.ID) (int, int, error) {
	var row struct {
		Missing      int
		Unregistered int
	}
	err := conn.WithContext(ctx).Raw(`SELECT
		(SELECT COUNT(*) FROM opname_snapshot_items
			WHERE session_id = @id AND scan_result = 'missing'
			AND (action_taken IS NULL OR action_taken = '')) AS missing,
		(SELECT COUNT(*) FROM opname_scanned_items
			WHERE session_id = @id AND scan_result = 'unregistered'
			AND (action_taken IS NULL OR action_taken = '')) AS unregistered`,
		map[string]any{"id": sessionID},
	).Scan(&row).Error
	if err != nil {
		return 0, 0, err
	}
	return row.Missing, row.Unregistered, nil
}

func (r *repo) ListDriftedSessionIDs(ctx context.Context, conn *gorm.DB, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []snowflake.ID
	err := conn.WithContext(ctx).Raw(`SELECT s.id FROM opname_sessions s
		WHERE s.total_expected <> (SELECT COUNT(*) FROM opname_snapshot_items i WHERE i.session_id = s.id)
		OR s.total_scanned <> (SELECT COUNT(*) FROM opname_scanned_items c WHERE c.session_id = s.id)
		OR s.total_matched <> (SELECT COUNT(*) FROM opname_snapshot_items i WHERE i.session_id = s.id AND i.scan_result = 'match')
		OR s.total_missing <> (SELECT COUNT(*) FROM opname_snapshot_items i WHERE i.session_id = s.id AND i.scan_result = 'missing')
		OR s.total_unregistered <> (SELECT COUNT(*) FROM opname_scanned_items c WHERE c.session_id = s.id AND c.scan_result = 'unregistered')
		ORDER BY s.id ASC
		LIMIT ?`, limit).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ReplaceAssignments(ctx context.Context, tx *gorm.DB, sessionID snowflake.ID, staffIDs []snowflake.ID, assignedBy snowflake.ID, at time.Time) error {
	conn := tx.WithContext(ctx)
	if err := conn.Exec(`DELETE FROM opname_session_assignments WHERE session_id = ?`, sessionID).Error; err != nil {
		return err
	}
	if len(staffIDs) == 0 {
		return nil
	}
	rows := make([]domain.Assignment, 0, len(staffIDs))
	for _, id := range staffIDs {
		rows = append(rows, domain.Assignment{
			SessionID:  sessionID,
			StaffID:    id,
			AssignedBy: assignedBy,
			CreatedAt:  at.UTC(),
		})
	}
	return conn.Create(&rows).Error
}

func (r *repo) ListAssignments(ctx context.Context, conn *gorm.DB, sessionID snowflake.ID) ([]domain.Assignment, error) {
	var rows []domain.Assignment
	err := conn.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at asc, staff_id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) IsAssigned(ctx context.Context, conn *gorm.DB, sessionID, staffID snowflake.ID) (bool, error) {
	var count int64
	err := conn.WithContext(ctx).
		Model(&domain.Assignment{}).
		Where("session_id = ? AND staff_id = ?", sessionID, staffID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListUpcomingDrafts(ctx context.Context, conn *gorm.DB, from, to time.Time, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 100
	}
	var sessions []domain.Session
	err := conn.WithContext(ctx).
		Where("status = ? AND reminded_at IS NULL", domain.SessionStatusDraft).
		Where("started_at >= ? AND started_at < ?", from.UTC(), to.UTC()).
		Order("started_at asc, id asc").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// ClaimReminder stamps reminded_at only if nobody else has, so each session is reminded once.
func (r *repo) ClaimReminder(ctx context.Context, conn *gorm.DB, sessionID snowflake.ID, at time.Time) (bool, error) {
	res := conn.WithContext(ctx).Exec(
		`UPDATE opname_sessions SET reminded_at = ?, updated_at = ? WHERE id = ? AND reminded_at IS NULL`,
		at.UTC(), at.UTC(), sessionID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func nullable(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
