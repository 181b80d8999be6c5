package db

import (
	"fmt"
	"regexp"
	"time"

	"gorm.io/gorm"
)

// LockMode selects the row lock appended to a SELECT.
type LockMode int

const (
	LockNone LockMode = iota
	LockForUpdate
	LockForUpdateSkipLocked
)

// ForUpdate returns the locking suffix for tx's dialect. SQLite serializes
// writers on the whole database and has no row locks, so it gets none.
func ForUpdate(tx *gorm.DB, mode LockMode) string {
	if mode == LockNone || tx == nil || tx.Dialector.Name() == DialectSQLite {
		return ""
	}
	if mode == LockForUpdateSkipLocked {
		return " FOR UPDATE SKIP LOCKED"
	}
	return " FOR UPDATE"
}

// SetLockTimeout bounds row lock waits for the rest of tx. Only postgres
// supports a transaction-scoped setting; other dialects are left alone.
func SetLockTimeout(tx *gorm.DB, timeout time.Duration) error {
	if tx == nil || timeout <= 0 || tx.Dialector.Name() != DialectPostgres {
		return nil
	}
	return tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", timeout.Milliseconds())).Error
}

var jsonKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidJSONKey reports whether key may be interpolated into JSONText.
func ValidJSONKey(key string) bool {
	return jsonKeyPattern.MatchString(key)
}

// JSONText returns an expression reading the top-level text value at key
// from a JSON column. key must satisfy ValidJSONKey.
func JSONText(tx *gorm.DB, column, key string) (string, error) {
	if !ValidJSONKey(key) {
		return "", fmt.Errorf("invalid json key %q", key)
	}
	switch tx.Dialector.Name() {
	case DialectPostgres:
		return fmt.Sprintf("%s ->> '%s'", column, key), nil
	case DialectMySQL:
		return fmt.Sprintf("JSON_UNQUOTE(JSON_EXTRACT(%s, '$.%s'))", column, key), nil
	case DialectSQLite:
		return fmt.Sprintf("json_extract(%s, '$.%s')", column, key), nil
	default:
		return "", fmt.Errorf("json lookup unsupported on %s", tx.Dialector.Name())
	}
}

// NullsFirstAsc orders column ascending with NULLs before values on every
// dialect.
func NullsFirstAsc(tx *gorm.DB, column string) string {
	if tx.Dialector.Name() == DialectPostgres {
		return column + " ASC NULLS FIRST"
	}
	return fmt.Sprintf("CASE WHEN %s IS NULL THEN 0 ELSE 1 END, %s ASC", column, column)
}
