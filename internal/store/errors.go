package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized is returned by Query, Exec and Transaction when the
	// handle is not Ready. It indicates a caller that skipped Initialize.
	ErrNotInitialized = errors.New("store: not initialized")

	// ErrNestedTransaction is returned when Transaction is called from
	// within a running unit of work.
	ErrNestedTransaction = errors.New("store: nested transaction")

	// ErrBusy is returned when the connection stayed held by another
	// statement or unit of work for longer than the busy timeout.
	ErrBusy = errors.New("store: connection busy")
)

// InitializationError reports that the open, verify or migrate sequence
// failed, even after one recovery attempt.
type InitializationError struct {
	Stage string
	Err   error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("store: initialize failed during %s: %v", e.Stage, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// EraseResult is the outcome of erasing one storage namespace.
type EraseResult struct {
	Namespace string
	Absent    bool // nothing to erase
	Err       error
}

// OK reports whether the namespace is gone.
func (r EraseResult) OK() bool { return r.Err == nil }

// CorruptionError reports that recovery could not produce a working
// connection. It is always fatal.
type CorruptionError struct {
	Erased []EraseResult
	Err    error
}

func (e *CorruptionError) Error() string {
	failed := FailedErasures(e.Erased)
	if len(failed) == 0 {
		return fmt.Sprintf("store: storage corrupted and could not be recovered: %v", e.Err)
	}
	names := make([]string, 0, len(failed))
	for _, r := range failed {
		names = append(names, r.Namespace)
	}
	return fmt.Sprintf("store: storage corrupted and could not be recovered (erase failed for %s): %v",
		strings.Join(names, ", "), e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// FailedErasures returns the results that did not erase their namespace.
func FailedErasures(results []EraseResult) []EraseResult {
	var failed []EraseResult
	for _, r := range results {
		if !r.OK() {
			failed = append(failed, r)
		}
	}
	return failed
}

// MigrationError reports a schema version marker the migrator cannot advance from.
type MigrationError struct {
	From int
	To   int
	Err  error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("store: cannot migrate schema from version %d to %d: %v", e.From, e.To, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// QueryError reports a statement rejected by the engine. It does not
// affect the handle state.
type QueryError struct {
	Statement string
	Code      int // engine result code, 0 if unknown
	Err       error
}

func (e *QueryError) Error() string {
	stmt := strings.Join(strings.Fields(e.Statement), " ")
	if len(stmt) > 80 {
		stmt = stmt[:77] + "..."
	}
	return fmt.Sprintf("store: query %q failed: %v", stmt, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
