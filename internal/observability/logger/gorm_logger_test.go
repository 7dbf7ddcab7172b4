package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		"SELECT * FROM opname_sessions":                         "SELECT",
		"  insert into opname_scanned_items (id) values (1)":    "INSERT",
		"WITH x AS (SELECT 1) UPDATE opname_sessions SET a = 1": "SELECT",
		"DELETE FROM opname_session_assignments":                "DELETE",
		"":                                                      "UNKNOWN",
	}
	for sql, want := range cases {
		assert.Equal(t, want, operationFromSQL(sql), sql)
	}
}
