package sqlite

import (
	"errors"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// resultCode returns the engine result code carried by err, or 0.
func resultCode(err error) int {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()
	}
	return 0
}

// isCorruption reports whether err is the engine saying the file is damaged
// or not a database at all.
func isCorruption(err error) bool {
	if err == nil {
		return false
	}
	switch resultCode(err) & 0xff {
	case sqlite3lib.SQLITE_CORRUPT, sqlite3lib.SQLITE_NOTADB:
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "malformed") || strings.Contains(message, "not a database")
}

// isAlreadyExistsError reports whether this error indicates idempotent DDL success.
func isAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}

// describe labels an open or probe failure for logs.
func describe(err error) string {
	if isCorruption(err) {
		return "corrupted"
	}
	return "unusable"
}
