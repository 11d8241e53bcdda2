package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/maloquacious/wealthwise/internal/store"
)

// Inspection is a read-only view of an existing store file.
type Inspection struct {
	SchemaVersion int
	Integrity     string
	Tables        map[string]int64
}

// Inspect examines the store file at path without changing it. It never
// recovers, migrates or erases, and it never creates the file. A store that
// cannot be read is reported as a *store.CorruptionError.
func Inspect(ctx context.Context, path string) (Inspection, error) {
	var in Inspection
	db, err := openReadOnly(ctx, path)
	if err != nil {
		return in, err
	}
	defer db.Close()

	var n int
	if err := db.QueryRowContext(ctx, probeSQL).Scan(&n); err != nil {
		return in, &store.CorruptionError{Err: fmt.Errorf("liveness probe: %w", err)}
	}
	marker, err := readMarker(ctx, db)
	if err != nil {
		return in, &store.CorruptionError{Err: err}
	}
	if in.SchemaVersion, err = marker.Version(); err != nil {
		return in, &store.CorruptionError{Err: err}
	}

	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&in.Integrity); err != nil {
		return in, &store.CorruptionError{Err: fmt.Errorf("integrity check: %w", err)}
	}
	if in.Integrity != "ok" {
		return in, &store.CorruptionError{Err: fmt.Errorf("integrity check: %s", in.Integrity)}
	}

	in.Tables, err = countTables(ctx, db)
	if err != nil {
		return in, &store.CorruptionError{Err: err}
	}
	return in, nil
}

// openReadOnly opens an existing file with writes refused on the connection.
// No pragma that rewrites the file header is applied.
func openReadOnly(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=query_only(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &store.CorruptionError{Err: fmt.Errorf("open: %w", err)}
	}
	return db, nil
}

func countTables(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list tables: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	counts := make(map[string]int64, len(names))
	for _, name := range names {
		var count int64
		if err := db.QueryRowContext(ctx, `SELECT count(*) FROM `+quoteIdent(name)).Scan(&count); err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		counts[name] = count
	}
	return counts, nil
}

// quoteIdent quotes name as an SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
