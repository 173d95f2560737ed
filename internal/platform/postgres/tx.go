package postgres

import (
	"context"
	"database/sql"
	"time"

	dErrors "redline/pkg/domain-errors"
	txcontext "redline/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// TxRunner implements tx.Runner over a *sql.DB. Each RunInTx call begins a
// transaction, injects it into the context for the stores, and commits only
// when fn succeeds; any error rolls the whole unit back.
type TxRunner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewTxRunner creates a TxRunner with the default per-transaction timeout.
func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

func (t *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	// Join an in-flight transaction instead of nesting a second one.
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx)
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "commit transaction")
	}
	return nil
}
