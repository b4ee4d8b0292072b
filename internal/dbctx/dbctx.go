package dbctx

import (
	"context"
	"database/sql"
)

// Context bundles a request context with an optional transaction.
type Context struct {
	Ctx context.Context
	Tx  *sql.Tx
}

// Querier is the subset of *sql.DB and *sql.Tx the repositories use.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Querier returns the transaction when one is open, otherwise db.
func (c Context) Querier(db *sql.DB) Querier {
	if c.Tx != nil {
		return c.Tx
	}
	return db
}

// Context returns c.Ctx, falling back to context.Background.
func (c Context) Context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

func (c Context) InTx() bool { return c.Tx != nil }
