// Package sqlite implements the WealthWise storage handle on modernc.org/sqlite.
//
// A Handle owns the single engine connection. It coalesces concurrent
// Initialize calls into one attempt, recovers once from a damaged store by
// erasing it, migrates the schema, and runs every query, script and
// transaction through that one connection.
package sqlite

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/maloquacious/wealthwise/internal/logger"
	"github.com/maloquacious/wealthwise/internal/metrics"
	"github.com/maloquacious/wealthwise/internal/store"
)

// DefaultSettleDelay is how long recovery waits after erasing storage
// before reopening it.
const DefaultSettleDelay = 150 * time.Millisecond

// DefaultBusyTimeout bounds how long a statement or unit of work waits for
// the connection, matching the engine's busy_timeout pragma.
const DefaultBusyTimeout = 5 * time.Second

// Handle implements store.Store. Construct one per application with New and
// share it; it owns the only connection to the substrate.
type Handle struct {
	sub      Substrate
	log      logger.Logger
	metrics  *metrics.Store
	migrator *Migrator
	settle   time.Duration
	busy     time.Duration
	caches   []store.Clearer

	flight singleflight.Group

	// lifecycle serializes initialization attempts, resets and Close.
	lifecycle sync.Mutex

	// conn is the single connection slot. A statement or unit of work holds
	// it while it runs; teardown takes it before closing the connection, so
	// the state stays Ready for as long as anyone is using the connection.
	conn chan struct{}

	// mu guards the fields below. It is never held while a statement runs.
	mu      sync.RWMutex
	state   store.State
	db      *sql.DB
	lastErr error
}

var _ store.Store = (*Handle)(nil)

// Option configures a Handle.
type Option func(*Handle)

func WithLogger(l logger.Logger) Option {
	return func(h *Handle) { h.log = l }
}

func WithMetrics(m *metrics.Store) Option {
	return func(h *Handle) { h.metrics = m }
}

func WithMigrator(m *Migrator) Option {
	return func(h *Handle) { h.migrator = m }
}

// WithSettleDelay sets the pause between erasing and reopening storage.
func WithSettleDelay(d time.Duration) Option {
	return func(h *Handle) { h.settle = d }
}

// WithBusyTimeout bounds the wait for the connection. Zero waits until the
// context ends.
func WithBusyTimeout(d time.Duration) Option {
	return func(h *Handle) { h.busy = d }
}

// WithCaches registers ambient caches that ForceReset clears.
func WithCaches(caches ...store.Clearer) Option {
	return func(h *Handle) { h.caches = append(h.caches, caches...) }
}

// New creates an uninitialized Handle over sub.
func New(sub Substrate, opts ...Option) *Handle {
	h := &Handle{
		sub:      sub,
		log:      logger.Default,
		migrator: DefaultMigrator(),
		settle:   DefaultSettleDelay,
		busy:     DefaultBusyTimeout,
		conn:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.metrics.SetState(store.StateUninitialized)
	return h
}

// State returns the current lifecycle state.
func (h *Handle) State() store.State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// LastError returns the failure that put the handle in Failed, or nil.
func (h *Handle) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// Query runs statement and returns all rows. Inside a unit of work, passing
// the unit's context runs the query in that transaction.
func (h *Handle) Query(ctx context.Context, statement string, args ...any) (*store.Result, error) {
	if tx := activeTxFrom(ctx, h); tx != nil {
		return tx.Query(ctx, statement, args...)
	}
	db, err := h.acquireReady(ctx)
	if err != nil {
		return nil, err
	}
	defer h.release()
	return h.query(ctx, db, statement, args...)
}

// Exec runs a statement or multi-statement script without returning rows.
func (h *Handle) Exec(ctx context.Context, statement string, args ...any) error {
	if tx := activeTxFrom(ctx, h); tx != nil {
		return tx.Exec(ctx, statement, args...)
	}
	db, err := h.acquireReady(ctx)
	if err != nil {
		return err
	}
	defer h.release()
	return h.exec(ctx, db, statement, args...)
}

// SchemaVersion returns the persisted schema version marker.
func (h *Handle) SchemaVersion(ctx context.Context) (int, error) {
	var q rowQuerier
	if tx := activeTxFrom(ctx, h); tx != nil {
		q = tx.tx
	} else {
		db, err := h.acquireReady(ctx)
		if err != nil {
			return 0, err
		}
		defer h.release()
		q = db
	}
	marker, err := readMarker(ctx, q)
	if err != nil {
		return 0, h.queryError("read schema version", err)
	}
	return marker.Version()
}

// Close releases the connection and returns the handle to Uninitialized.
// It waits for a running statement or unit of work to finish, so it must
// not be called from inside one. Closing a closed handle is a no-op.
func (h *Handle) Close() error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.conn <- struct{}{}
	defer h.release()

	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.teardownLocked()
	h.setStateLocked(store.StateUninitialized, nil)
	return err
}

// acquire takes the connection slot, waiting at most the busy timeout.
func (h *Handle) acquire(ctx context.Context) error {
	var timeout <-chan time.Time
	if h.busy > 0 {
		t := time.NewTimer(h.busy)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case h.conn <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return store.ErrBusy
	}
}

func (h *Handle) release() {
	<-h.conn
}

// acquireReady takes the connection slot and returns the open connection.
// A handle that is not Ready fails fast without waiting for the slot.
func (h *Handle) acquireReady(ctx context.Context) (*sql.DB, error) {
	if h.State() != store.StateReady {
		return nil, store.ErrNotInitialized
	}
	if err := h.acquire(ctx); err != nil {
		return nil, err
	}
	h.mu.RLock()
	state, db := h.state, h.db
	h.mu.RUnlock()
	if state != store.StateReady {
		h.release()
		return nil, store.ErrNotInitialized
	}
	return db, nil
}

// teardownLocked closes the connection if one is held. Callers hold the
// connection slot and mu.
func (h *Handle) teardownLocked() error {
	if h.db == nil {
		return nil
	}
	err := h.db.Close()
	h.db = nil
	return err
}

func (h *Handle) setState(s store.State, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.setStateLocked(s, err)
}

func (h *Handle) setStateLocked(s store.State, err error) {
	h.state = s
	h.lastErr = err
	h.metrics.SetState(s)
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (h *Handle) query(ctx context.Context, q querier, statement string, args ...any) (*store.Result, error) {
	rows, err := q.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, h.queryError(statement, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, h.queryError(statement, err)
	}
	result := &store.Result{Columns: cols}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, h.queryError(statement, err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, h.queryError(statement, err)
	}
	return result, nil
}

func (h *Handle) exec(ctx context.Context, q querier, statement string, args ...any) error {
	if _, err := q.ExecContext(ctx, statement, args...); err != nil {
		return h.queryError(statement, err)
	}
	return nil
}

func (h *Handle) queryError(statement string, err error) error {
	h.metrics.QueryError()
	return &store.QueryError{Statement: statement, Code: resultCode(err), Err: err}
}
