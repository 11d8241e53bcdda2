package store

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultDBFile = "wealthwise.db"
)

// namespaceSuffixes are the sidecar files the engine may create next to the
// primary database file.
var namespaceSuffixes = []string{"", "-wal", "-shm", "-journal"}

// KnownNamespaces returns the primary store name followed by its internal
// variants.
func KnownNamespaces(dbFile string) []string {
	names := make([]string, 0, len(namespaceSuffixes))
	for _, suffix := range namespaceSuffixes {
		names = append(names, dbFile+suffix)
	}
	return names
}

// CheckExists verifies if the datastore exists at the given path.
// Returns true if the store exists, false otherwise.
func CheckExists(storePath, dbFile string) (bool, error) {
	dbPath := GetDBPath(storePath, dbFile)
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check store existence: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("datastore path is a directory, expected file: %s", dbPath)
	}
	return true, nil
}

// GetStorePath returns the default datastore directory.
func GetStorePath() string {
	return "."
}

// GetDBPath returns the full path to the database file.
func GetDBPath(storePath, dbFile string) string {
	if dbFile == "" {
		dbFile = DefaultDBFile
	}
	return filepath.Join(storePath, dbFile)
}
