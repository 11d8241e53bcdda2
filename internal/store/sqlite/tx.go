package sqlite

import (
	"context"
	"database/sql"

	"github.com/maloquacious/wealthwise/internal/store"
)

type txKey struct{}

// activeTx is the unit of work's view of the open transaction.
type activeTx struct {
	h  *Handle
	tx *sql.Tx
}

func (t *activeTx) Query(ctx context.Context, statement string, args ...any) (*store.Result, error) {
	return t.h.query(ctx, t.tx, statement, args...)
}

func (t *activeTx) Exec(ctx context.Context, statement string, args ...any) error {
	return t.h.exec(ctx, t.tx, statement, args...)
}

// activeTxFrom returns the transaction h attached to ctx, if any.
func activeTxFrom(ctx context.Context, h *Handle) *activeTx {
	t, ok := ctx.Value(txKey{}).(*activeTx)
	if !ok || t.h != h {
		return nil
	}
	return t
}

// Transaction runs fn inside BEGIN/COMMIT on the handle's connection. If fn
// returns an error or panics the transaction is rolled back and the error
// (or panic) propagates.
//
// The context passed to fn carries the transaction: Query, Exec,
// SchemaVersion and Initialize on the handle with that context join it, and
// Transaction with that context returns store.ErrNestedTransaction. A
// statement or Transaction with any other context waits for the connection
// and fails with store.ErrBusy after the busy timeout. Close and resets wait
// for fn to return; the handle stays Ready while it runs.
func (h *Handle) Transaction(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if activeTxFrom(ctx, h) != nil {
		return store.ErrNestedTransaction
	}

	db, err := h.acquireReady(ctx)
	if err != nil {
		return err
	}
	defer h.release()

	sqlTx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return h.queryError("BEGIN", err)
	}
	t := &activeTx{h: h, tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, t), t); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			h.log.Warn("transaction: rollback: %v", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return h.queryError("COMMIT", err)
	}
	return nil
}
