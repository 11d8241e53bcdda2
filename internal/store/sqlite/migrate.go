package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/maloquacious/wealthwise/internal/store"
)

// ErrNewerSchema means the store was written by a newer build.
var ErrNewerSchema = errors.New("schema version marker is newer than this build")

// Marker is the persisted schema version marker as read from settings.
type Marker struct {
	Present bool
	Raw     string
}

// Version parses the marker. An absent marker is version 0.
func (m Marker) Version() (int, error) {
	if !m.Present {
		return 0, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(m.Raw))
	if err != nil || v < 1 {
		return 0, fmt.Errorf("invalid schema version marker %q", m.Raw)
	}
	return v, nil
}

// Migration advances the schema from Version-1 to Version.
type Migration struct {
	Version int
	Name    string
	Up      func(ctx context.Context, tx *sql.Tx) error
}

// Migrator brings an open store to Current.
type Migrator struct {
	Current int
	Steps   []Migration

	// Schema and Seed build a fresh store directly at Current.
	Schema string
	Seed   func(ctx context.Context, tx *sql.Tx) error
}

// migrations are the registered upgrade steps, keyed by the version they
// produce. Versions without a step only advance the marker.
var migrations = []Migration{
	{
		Version: 2,
		Name:    "budget rollover",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `ALTER TABLE budgets ADD COLUMN rollover INTEGER NOT NULL DEFAULT 0`)
			return err
		},
	},
}

// DefaultMigrator returns the migrator for the built-in schema.
func DefaultMigrator() *Migrator {
	return &Migrator{
		Current: CurrentSchemaVersion,
		Steps:   migrations,
		Schema:  fullSchema(),
		Seed:    seed,
	}
}

// Migrate applies whatever marker calls for: a full create when absent,
// ordered steps when older, nothing when current. A marker that is newer
// or unparseable is a *store.MigrationError and nothing is changed.
func (m *Migrator) Migrate(ctx context.Context, db *sql.DB, marker Marker) error {
	if !marker.Present {
		return m.create(ctx, db)
	}
	from, err := marker.Version()
	if err != nil {
		return &store.MigrationError{From: 0, To: m.Current, Err: err}
	}
	if from > m.Current {
		return &store.MigrationError{From: from, To: m.Current, Err: ErrNewerSchema}
	}

	steps := make(map[int]Migration, len(m.Steps))
	for _, step := range m.Steps {
		steps[step.Version] = step
	}
	for v := from + 1; v <= m.Current; v++ {
		step, ok := steps[v]
		if err := m.apply(ctx, db, v, step, ok); err != nil {
			return &store.MigrationError{From: v - 1, To: v, Err: err}
		}
	}
	return nil
}

// create applies the full schema and seed data and writes the marker in
// one transaction.
func (m *Migrator) create(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if m.Seed != nil {
		if err := m.Seed(ctx, tx); err != nil {
			return fmt.Errorf("failed to seed: %w", err)
		}
	}
	if err := writeMarker(ctx, tx, m.Current); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// apply runs one version step, if registered, and advances the marker to v.
func (m *Migrator) apply(ctx context.Context, db *sql.DB, v int, step Migration, ok bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if ok && step.Up != nil {
		if err := step.Up(ctx, tx); err != nil && !isAlreadyExistsError(err) {
			return fmt.Errorf("%s: %w", step.Name, err)
		}
	}
	if err := writeMarker(ctx, tx, v); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// readMarker returns the version marker. A store without a settings table
// or without the marker row has no marker.
func readMarker(ctx context.Context, db rowQuerier) (Marker, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='settings'`).Scan(&count)
	if err != nil {
		return Marker{}, fmt.Errorf("failed to check settings table: %w", err)
	}
	if count == 0 {
		return Marker{}, nil
	}

	var raw string
	err = db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, schemaVersionKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Marker{}, nil
	}
	if err != nil {
		return Marker{}, fmt.Errorf("failed to read schema version: %w", err)
	}
	return Marker{Present: true, Raw: raw}, nil
}

func writeMarker(ctx context.Context, tx *sql.Tx, v int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, strftime('%s', 'now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		schemaVersionKey, strconv.Itoa(v))
	if err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	return nil
}
