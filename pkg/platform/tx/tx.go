// Package tx carries a SQL transaction through context so stores can join
// the transaction of the operation that invoked them. The engine's multi-step
// algorithms (graph rebuild, drift recompute, reconciliation decisions and
// uploads) each run inside one Runner call; every store write performed with
// the resulting context lands in the same transaction or not at all.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

var txKey = ctxKey{}

// Runner executes fn inside one atomic unit. The context passed to fn carries
// the transaction; stores must route their statements through it.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}
