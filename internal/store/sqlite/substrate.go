package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/maloquacious/wealthwise/internal/store"
	_ "modernc.org/sqlite"
)

// Substrate is the persistent medium behind the handle. Only the Handle
// calls it.
type Substrate interface {
	// Open returns a new single-connection database.
	Open(ctx context.Context) (*sql.DB, error)

	// Known returns the fixed namespace names that make up the store.
	Known() []string

	// List enumerates namespaces currently present. It is best-effort and
	// only ever adds to Known.
	List(ctx context.Context) ([]string, error)

	// Erase removes one namespace. An absent namespace yields an error
	// wrapping fs.ErrNotExist.
	Erase(ctx context.Context, namespace string) error
}

// pragmas are applied to every new connection.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// openSQLite opens dsn with exactly one pooled connection and safe defaults.
func openSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	return db, nil
}

// DirSubstrate keeps the store as a database file plus its sidecar files
// inside Dir.
type DirSubstrate struct {
	Dir  string
	Name string
}

// NewDirSubstrate returns a substrate rooted at dir. An empty name uses
// store.DefaultDBFile.
func NewDirSubstrate(dir, name string) *DirSubstrate {
	if name == "" {
		name = store.DefaultDBFile
	}
	return &DirSubstrate{Dir: dir, Name: name}
}

func (s *DirSubstrate) Path() string {
	return store.GetDBPath(s.Dir, s.Name)
}

func (s *DirSubstrate) Open(ctx context.Context) (*sql.DB, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return openSQLite(ctx, s.Path())
}

func (s *DirSubstrate) Known() []string {
	return store.KnownNamespaces(s.Name)
}

func (s *DirSubstrate) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list data dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), s.Name) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *DirSubstrate) Erase(ctx context.Context, namespace string) error {
	if namespace == "" || filepath.Base(namespace) != namespace {
		return fmt.Errorf("invalid namespace %q", namespace)
	}
	if err := os.Remove(filepath.Join(s.Dir, namespace)); err != nil {
		return fmt.Errorf("erase %s: %w", namespace, err)
	}
	return nil
}

// MemorySubstrate holds the store in memory for the lifetime of the
// connection. Every Open starts empty.
type MemorySubstrate struct {
	Name string
}

func (s *MemorySubstrate) Open(ctx context.Context) (*sql.DB, error) {
	return openSQLite(ctx, ":memory:")
}

func (s *MemorySubstrate) Known() []string {
	return []string{s.name()}
}

func (s *MemorySubstrate) List(ctx context.Context) ([]string, error) {
	return s.Known(), nil
}

// Erase is a no-op: closing the connection already discarded the data.
func (s *MemorySubstrate) Erase(ctx context.Context, namespace string) error {
	return nil
}

func (s *MemorySubstrate) name() string {
	if s.Name == "" {
		return "memory"
	}
	return s.Name
}

// mergeNamespaces returns known followed by any listed names not already in it.
func mergeNamespaces(known, listed []string) []string {
	seen := make(map[string]bool, len(known)+len(listed))
	out := make([]string, 0, len(known)+len(listed))
	for _, group := range [][]string{known, listed} {
		for _, name := range group {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
