package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/maloquacious/wealthwise/internal/store"
)

// probeSQL reads the schema table, which fails on a damaged or foreign file.
const probeSQL = `SELECT count(*) FROM sqlite_master`

// errNothingErased is the cause when every namespace refused to erase.
var errNothingErased = errors.New("no storage namespace could be erased")

// openProbed opens the substrate and runs the liveness probe.
func (h *Handle) openProbed(ctx context.Context) (*sql.DB, error) {
	db, err := h.sub.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, probeSQL).Scan(&n); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("liveness probe: %w", err)
	}
	return db, nil
}

// eraseAndReopen erases the known namespaces, waits for the substrate to settle
// and reopens it once. Any failure is a *store.CorruptionError.
func (h *Handle) eraseAndReopen(ctx context.Context) (*sql.DB, error) {
	h.metrics.Recovery()

	results, err := h.erase(ctx, h.sub.Known())
	if err != nil {
		return nil, err
	}
	if err := h.settleWait(ctx); err != nil {
		return nil, &store.CorruptionError{Erased: results, Err: err}
	}
	db, err := h.openProbed(ctx)
	if err != nil {
		return nil, &store.CorruptionError{Erased: results, Err: err}
	}
	h.log.Info("recovery: storage reopened after erasing %d namespaces", len(results))
	return db, nil
}

// erase removes each namespace and reports one result per name. Individual
// failures are logged and skipped; only a total failure is an error.
func (h *Handle) erase(ctx context.Context, names []string) ([]store.EraseResult, error) {
	results := make([]store.EraseResult, 0, len(names))
	failed := 0
	for _, name := range names {
		r := store.EraseResult{Namespace: name}
		if err := h.sub.Erase(ctx, name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				r.Absent = true
			} else {
				r.Err = err
				failed++
				h.metrics.EraseFailure()
				h.log.Warn("recovery: could not erase %s: %v", name, err)
			}
		}
		results = append(results, r)
	}
	if len(names) > 0 && failed == len(names) {
		return results, &store.CorruptionError{Erased: results, Err: errNothingErased}
	}
	return results, nil
}

func (h *Handle) settleWait(ctx context.Context) error {
	if h.settle <= 0 {
		return nil
	}
	t := time.NewTimer(h.settle)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClearAndReinitialize closes the connection, erases the known namespaces
// and initializes from scratch. It also clears a Failed state.
func (h *Handle) ClearAndReinitialize(ctx context.Context) error {
	if err := h.reset(ctx, false); err != nil {
		return err
	}
	return h.Initialize(ctx)
}

// ForceReset is the support-only hard reset: it erases the known
// namespaces plus every namespace the substrate lists, clears all
// registered ambient caches, and initializes from scratch. It is never
// called automatically.
func (h *Handle) ForceReset(ctx context.Context) error {
	if err := h.reset(ctx, true); err != nil {
		return err
	}
	return h.Initialize(ctx)
}

func (h *Handle) reset(ctx context.Context, hard bool) error {
	if activeTxFrom(ctx, h) != nil {
		return fmt.Errorf("reset inside a unit of work: %w", store.ErrNestedTransaction)
	}

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if err := h.detach(ctx, "reset"); err != nil {
		return err
	}

	names := h.sub.Known()
	if hard {
		names = h.allNamespaces(ctx, "reset")
	}

	_, eraseErr := h.erase(ctx, names)
	if hard {
		h.clearCaches()
	}
	if eraseErr != nil {
		initErr := &store.InitializationError{Stage: "reset", Err: eraseErr}
		h.setState(store.StateFailed, initErr)
		return initErr
	}

	h.log.Info("reset: erased %d namespaces (hard=%v)", len(names), hard)
	return h.settleWait(ctx)
}

// clearCaches clears every registered ambient cache, logging failures.
func (h *Handle) clearCaches() {
	for _, c := range h.caches {
		if err := c.Clear(); err != nil {
			h.log.Warn("reset: clear cache %s: %v", c.Name(), err)
		}
	}
}

// Wipe closes the connection and erases every namespace of the store plus
// the registered ambient caches, leaving the handle Uninitialized. Files
// that do not belong to the store are never touched. It returns the
// namespaces that were present and removed.
func (h *Handle) Wipe(ctx context.Context) ([]string, error) {
	if activeTxFrom(ctx, h) != nil {
		return nil, fmt.Errorf("wipe inside a unit of work: %w", store.ErrNestedTransaction)
	}

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	if err := h.detach(ctx, "wipe"); err != nil {
		return nil, err
	}
	results, _ := h.erase(ctx, h.allNamespaces(ctx, "wipe"))
	h.clearCaches()

	var removed []string
	var errs []error
	for _, r := range results {
		switch {
		case r.Err != nil:
			errs = append(errs, r.Err)
		case !r.Absent:
			removed = append(removed, r.Namespace)
		}
	}
	h.log.Info("wipe: erased %d namespaces", len(removed))
	return removed, errors.Join(errs...)
}

// detach waits for the connection, closes it and marks the handle
// Uninitialized. Callers hold lifecycle.
func (h *Handle) detach(ctx context.Context, op string) error {
	if err := h.acquire(ctx); err != nil {
		return fmt.Errorf("%s: wait for connection: %w", op, err)
	}
	defer h.release()

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.teardownLocked(); err != nil {
		h.log.Warn("%s: close connection: %v", op, err)
	}
	h.setStateLocked(store.StateUninitialized, nil)
	return nil
}

// allNamespaces returns the known namespaces plus any the substrate lists.
func (h *Handle) allNamespaces(ctx context.Context, op string) []string {
	listed, err := h.sub.List(ctx)
	if err != nil {
		h.log.Warn("%s: enumerate namespaces, using known names only: %v", op, err)
	}
	return mergeNamespaces(h.sub.Known(), listed)
}
