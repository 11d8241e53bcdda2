package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maloquacious/wealthwise/internal/logger"
	"github.com/maloquacious/wealthwise/internal/store"
)

var errSimulatedOpen = errors.New("simulated open failure")

// fakeSubstrate wraps a real substrate and injects failures.
type fakeSubstrate struct {
	Substrate

	mu         sync.Mutex
	opens      int
	erased     []string
	failOpens  int  // leading Open calls that fail
	alwaysFail bool // every Open fails
	gate       chan struct{}
	eraseErr   error
	listErr    error
	afterOpen  func(*sql.DB) error // runs on every successful Open
}

func newFake(t *testing.T) *fakeSubstrate {
	t.Helper()
	return &fakeSubstrate{Substrate: NewDirSubstrate(t.TempDir(), "")}
}

func (f *fakeSubstrate) Open(ctx context.Context) (*sql.DB, error) {
	f.mu.Lock()
	f.opens++
	n := f.opens
	gate := f.gate
	fail := f.alwaysFail || n <= f.failOpens
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errSimulatedOpen
	}
	db, err := f.Substrate.Open(ctx)
	if err != nil || f.afterOpen == nil {
		return db, err
	}
	if err := f.afterOpen(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (f *fakeSubstrate) Erase(ctx context.Context, namespace string) error {
	f.mu.Lock()
	f.erased = append(f.erased, namespace)
	eraseErr := f.eraseErr
	f.mu.Unlock()

	if eraseErr != nil {
		return eraseErr
	}
	return f.Substrate.Erase(ctx, namespace)
}

func (f *fakeSubstrate) List(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Substrate.List(ctx)
}

func (f *fakeSubstrate) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeSubstrate) erasedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.erased...)
}

func (f *fakeSubstrate) setAlwaysFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alwaysFail = v
}

func newHandle(t *testing.T, sub Substrate, opts ...Option) *Handle {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Nop), WithSettleDelay(0)}, opts...)
	h := New(sub, opts...)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func readyHandle(t *testing.T, sub Substrate, opts ...Option) *Handle {
	t.Helper()
	h := newHandle(t, sub, opts...)
	require.NoError(t, h.Initialize(context.Background()))
	require.Equal(t, store.StateReady, h.State())
	return h
}

func countRows(t *testing.T, h *Handle, table string) int64 {
	t.Helper()
	res, err := h.Query(context.Background(), "SELECT COUNT(*) FROM "+table)
	require.NoError(t, err)
	require.Equal(t, 1, res.Len())
	n, ok := res.Rows[0][0].(int64)
	require.True(t, ok, "count(*) returned %T", res.Rows[0][0])
	return n
}

func insertAccount(t *testing.T, ctx context.Context, s interface {
	Exec(context.Context, string, ...any) error
}, id string) {
	t.Helper()
	require.NoError(t, s.Exec(ctx, `INSERT INTO accounts (id, name, type) VALUES (?, ?, 'bank')`, id, "Account "+id))
}
