package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/maloquacious/wealthwise/internal/metrics"
	"github.com/maloquacious/wealthwise/internal/store"
)

const flightKey = "initialize"

// Initialize brings the handle to Ready. Concurrent callers share one
// attempt and all observe its outcome. A Ready handle returns immediately;
// a Failed handle returns its failure until ClearAndReinitialize or
// ForceReset is called.
//
// If ctx ends first, Initialize returns ctx.Err() but the attempt keeps
// running; a later call observes its result.
//
// Inside a unit of work the handle is Ready by construction, so a call with
// the unit's context returns nil at once.
func (h *Handle) Initialize(ctx context.Context) error {
	if activeTxFrom(ctx, h) != nil {
		return nil
	}
	if done, err := h.settled(); done {
		return err
	}

	ch := h.flight.DoChan(flightKey, func() (any, error) {
		return nil, h.attempt(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		h.log.Warn("initialize: caller stopped waiting: %v", ctx.Err())
		return ctx.Err()
	}
}

// settled reports whether the handle is Ready or Failed, with the outcome.
func (h *Handle) settled() (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	switch h.state {
	case store.StateReady:
		return true, nil
	case store.StateFailed:
		return true, h.lastErr
	}
	return false, nil
}

// attempt runs one open, verify and migrate sequence.
func (h *Handle) attempt(ctx context.Context) error {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	// A previous flight may have settled the handle after this caller's
	// fast-path check.
	if done, err := h.settled(); done {
		return err
	}

	h.setState(store.StateInitializing, nil)
	start := time.Now()

	db, recovered, err := h.bringUp(ctx)
	if err != nil {
		h.setState(store.StateFailed, err)
		h.metrics.InitAttempt(failureOutcome(err), time.Since(start))
		h.log.Error("initialize: %v", err)
		return err
	}

	h.mu.Lock()
	h.db = db
	h.setStateLocked(store.StateReady, nil)
	h.mu.Unlock()

	outcome := metrics.OutcomeReady
	if recovered {
		outcome = metrics.OutcomeRecovered
	}
	h.metrics.InitAttempt(outcome, time.Since(start))
	h.log.Info("initialize: store ready in %s (recovered=%v)", time.Since(start).Round(time.Millisecond), recovered)
	return nil
}

// bringUp opens and probes the substrate, reads the version marker and
// migrates. Open-time and first-query-time failures share one recovery
// cycle per attempt. On error no connection is left open.
func (h *Handle) bringUp(ctx context.Context) (*sql.DB, bool, error) {
	recovered := false

	db, err := h.openProbed(ctx)
	if err != nil {
		h.log.Warn("initialize: storage %s on open, erasing: %v", describe(err), err)
		if db, err = h.eraseAndReopen(ctx); err != nil {
			return nil, true, &store.InitializationError{Stage: "open", Err: err}
		}
		recovered = true
	}

	marker, err := readMarker(ctx, db)
	if err != nil {
		_ = db.Close()
		if recovered {
			return nil, true, &store.InitializationError{Stage: "verify", Err: &store.CorruptionError{Err: err}}
		}
		h.log.Warn("initialize: settings %s, erasing: %v", describe(err), err)
		if db, err = h.eraseAndReopen(ctx); err != nil {
			return nil, true, &store.InitializationError{Stage: "verify", Err: err}
		}
		recovered = true
		if marker, err = readMarker(ctx, db); err != nil {
			_ = db.Close()
			return nil, true, &store.InitializationError{Stage: "verify", Err: &store.CorruptionError{Err: err}}
		}
	}

	if err := h.migrator.Migrate(ctx, db, marker); err != nil {
		_ = db.Close()
		return nil, recovered, &store.InitializationError{Stage: "migrate", Err: err}
	}
	return db, recovered, nil
}

func failureOutcome(err error) string {
	var corrupt *store.CorruptionError
	var migration *store.MigrationError
	switch {
	case errors.As(err, &corrupt):
		return metrics.OutcomeCorrupted
	case errors.As(err, &migration):
		return metrics.OutcomeMigration
	}
	return metrics.OutcomeFailed
}
