package cli

import (
	"context"

	"github.com/maloquacious/wealthwise/internal/store"
)

// HardReset erases all storage and ambient caches, then initializes from
// scratch.
func HardReset(ctx context.Context, s store.Store) error {
	return s.ForceReset(ctx)
}

// SoftReset erases the known storage namespaces and initializes again.
func SoftReset(ctx context.Context, s store.Store) error {
	return s.ClearAndReinitialize(ctx)
}

// Wiper is a store that can erase its own files without reinitializing.
type Wiper interface {
	Wipe(ctx context.Context) ([]string, error)
}

// Wipe erases the datastore files and ambient caches of s, leaving it
// uninitialized. Other files in the data directory are kept.
func Wipe(ctx context.Context, s Wiper) ([]string, error) {
	return s.Wipe(ctx)
}
