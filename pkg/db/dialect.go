package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "postgres", "":
		return postgres.Open(PostgresDSN(cfg)), nil
	case "sqlite":
		return sqlite.Open(sqlitePath(cfg.Name)), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.Type)
	}
}

func PostgresDSN(cfg Config) string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		cfg.Host,
		cfg.User,
		cfg.Password,
		cfg.Name,
		cfg.Port,
		cfg.SSLMode,
	)
}

func sqlitePath(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "stockopname.db"
	}
	if strings.HasPrefix(name, "file:") || strings.HasSuffix(name, ".db") {
		return name
	}
	return name + ".db"
}

// IsSQLite reports whether the handle talks to sqlite, where row locks are unavailable.
func IsSQLite(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() == "sqlite"
}

// ForUpdate appends a row lock to a raw SELECT unless the dialect cannot take one.
func ForUpdate(db *gorm.DB, query string) string {
	if IsSQLite(db) {
		return query
	}
	return query + " FOR UPDATE"
}
