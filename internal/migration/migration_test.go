package migration

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestSplitStatementsSkipsComments(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (id INT);\n\n-- note\nCREATE INDEX b ON a (id);\n")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id INT)", stmts[0])
}

func TestApplySQLiteSchemaIsIdempotent(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:migration_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(conn))
	require.NoError(t, Run(conn))

	for _, table := range []string{
		"branches", "staff_members", "stock_units", "opname_sessions", "opname_snapshot_items",
		"opname_scanned_items", "opname_session_assignments", "opname_schedules", "reminder_logs",
		"notifications", "audit_logs",
	} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := embeddedMigrations.ReadDir(migrationsDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
