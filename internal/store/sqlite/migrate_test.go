package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maloquacious/wealthwise/internal/store"
)

// schemaV1 is the subset of the version 1 schema the budget step touches.
const schemaV1 = `
CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT NOT NULL, updated_at INTEGER NOT NULL DEFAULT 0);
CREATE TABLE budgets (id TEXT PRIMARY KEY, name TEXT NOT NULL, amount_minor INTEGER NOT NULL);
INSERT INTO settings (key, value) VALUES ('schema_version', '1');
INSERT INTO budgets (id, name, amount_minor) VALUES ('b1', 'Groceries', 1500000);
`

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := openSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func markerOf(t *testing.T, db *sql.DB) Marker {
	t.Helper()
	m, err := readMarker(context.Background(), db)
	require.NoError(t, err)
	return m
}

func TestMigratorCreatesFreshStore(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()

	require.Equal(t, Marker{}, markerOf(t, db))
	require.NoError(t, DefaultMigrator().Migrate(ctx, db, Marker{}))

	v, err := markerOf(t, db).Version()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM categories`).Scan(&n))
	assert.Equal(t, len(seedCategories), n)
}

func TestMigratorUpgradesVersionOne(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	_, err := db.Exec(schemaV1)
	require.NoError(t, err)

	require.NoError(t, DefaultMigrator().Migrate(ctx, db, markerOf(t, db)))

	v, err := markerOf(t, db).Version()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	var rollover int
	require.NoError(t, db.QueryRow(`SELECT rollover FROM budgets WHERE id = 'b1'`).Scan(&rollover))
	assert.Zero(t, rollover)
}

func TestMigratorStepsRunInOrderAndGapsAdvanceMarker(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	_, err := db.Exec(schemaV1)
	require.NoError(t, err)

	var ran []int
	step := func(v int) Migration {
		return Migration{Version: v, Name: "noop", Up: func(context.Context, *sql.Tx) error {
			ran = append(ran, v)
			return nil
		}}
	}
	m := &Migrator{Current: 5, Steps: []Migration{step(4), step(2)}}

	require.NoError(t, m.Migrate(ctx, db, markerOf(t, db)))
	assert.Equal(t, []int{2, 4}, ran)
	v, err := markerOf(t, db).Version()
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestMigratorFailedStepKeepsLastGoodVersion(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	_, err := db.Exec(schemaV1)
	require.NoError(t, err)

	errStep := errors.New("step failed")
	m := &Migrator{Current: 3, Steps: []Migration{
		{Version: 3, Name: "broken", Up: func(context.Context, *sql.Tx) error { return errStep }},
	}}

	err = m.Migrate(ctx, db, markerOf(t, db))
	var me *store.MigrationError
	require.ErrorAs(t, err, &me)
	assert.ErrorIs(t, err, errStep)
	assert.Equal(t, 2, me.From)
	assert.Equal(t, 3, me.To)

	v, err := markerOf(t, db).Version()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestMigratorTreatsDuplicateColumnAsApplied(t *testing.T) {
	db := openMemory(t)
	ctx := context.Background()
	_, err := db.Exec(schemaV1)
	require.NoError(t, err)
	_, err = db.Exec(`ALTER TABLE budgets ADD COLUMN rollover INTEGER NOT NULL DEFAULT 0`)
	require.NoError(t, err)

	require.NoError(t, DefaultMigrator().Migrate(ctx, db, markerOf(t, db)))
	v, err := markerOf(t, db).Version()
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)
}

func TestMigratorRejectsUnusableMarkers(t *testing.T) {
	tests := []struct {
		name   string
		marker Marker
		want   error
	}{
		{name: "newer", marker: Marker{Present: true, Raw: "7"}, want: ErrNewerSchema},
		{name: "garbage", marker: Marker{Present: true, Raw: "two"}},
		{name: "zero", marker: Marker{Present: true, Raw: "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := openMemory(t)
			err := DefaultMigrator().Migrate(context.Background(), db, tt.marker)
			var me *store.MigrationError
			require.ErrorAs(t, err, &me)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			// Nothing was created.
			assert.Equal(t, Marker{}, markerOf(t, db))
		})
	}
}

func TestMigratorNoopWhenCurrent(t *testing.T) {
	db := openMemory(t)
	m := &Migrator{Current: 1, Steps: []Migration{
		{Version: 1, Name: "never", Up: func(context.Context, *sql.Tx) error {
			t.Fatal("step must not run")
			return nil
		}},
	}}
	require.NoError(t, m.Migrate(context.Background(), db, Marker{Present: true, Raw: "1"}))
}

func TestMarkerVersion(t *testing.T) {
	tests := []struct {
		marker  Marker
		want    int
		wantErr bool
	}{
		{marker: Marker{}, want: 0},
		{marker: Marker{Present: true, Raw: "2"}, want: 2},
		{marker: Marker{Present: true, Raw: " 3 "}, want: 3},
		{marker: Marker{Present: true, Raw: "-1"}, wantErr: true},
		{marker: Marker{Present: true, Raw: ""}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := tt.marker.Version()
		if tt.wantErr {
			assert.Error(t, err, "marker %+v", tt.marker)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
