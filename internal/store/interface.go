package store

import "context"

// State represents the lifecycle state of the storage handle.
type State int

const (
	StateUninitialized State = iota // No connection held
	StateInitializing               // An initialization attempt is running
	StateReady                      // Connection open, schema current
	StateFailed                     // Last attempt failed; needs an explicit recovery
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Result holds the rows returned by a query, in column and row order.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Records returns each row keyed by column name.
func (r *Result) Records() []map[string]any {
	if r == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		rec := make(map[string]any, len(r.Columns))
		for i, col := range r.Columns {
			rec[col] = row[i]
		}
		out = append(out, rec)
	}
	return out
}

// Tx is the view of the connection handed to a unit of work.
type Tx interface {
	Query(ctx context.Context, statement string, args ...any) (*Result, error)
	Exec(ctx context.Context, statement string, args ...any) error
}

// Clearer is an ambient cache that a hard reset must wipe.
type Clearer interface {
	Name() string
	Clear() error
}

// Store defines the WealthWise storage contract consumed by the CRUD stores.
// Implementations must be safe for concurrent use.
type Store interface {
	// Initialize opens, verifies and migrates the datastore. Concurrent
	// callers share a single attempt.
	Initialize(ctx context.Context) error

	// Query runs a statement and returns its rows.
	Query(ctx context.Context, statement string, args ...any) (*Result, error)

	// Exec runs a statement or script that returns no rows.
	Exec(ctx context.Context, statement string, args ...any) error

	// Transaction runs fn between BEGIN and COMMIT, rolling back on error.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Close releases the connection. Safe to call more than once.
	Close() error

	// ClearAndReinitialize erases the known namespaces and initializes again.
	ClearAndReinitialize(ctx context.Context) error

	// ForceReset erases every namespace and ambient cache, then initializes again.
	ForceReset(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State
}
