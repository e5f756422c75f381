package db

import (
	"fmt"

	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// JSONArrayNotEmptyExpr returns a SQL predicate matching rows whose
// JSON array column holds at least one element. NULL columns never
// match.
func JSONArrayNotEmptyExpr(conn *gorm.DB, column string) string {
	if IsSQLite(conn) {
		return fmt.Sprintf("%s IS NOT NULL AND json_array_length(%s) > 0", column, column)
	}
	return fmt.Sprintf("%s IS NOT NULL AND jsonb_array_length(%s) > 0", column, column)
}
