package store

import (
	"context"
	"database/sql"
)

func (o *ops) Registry() RegistryOps {
	return &registryOps{
		sqler: o,
		clock: o.clock,
	}
}

func (o *ops) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.tx.ExecContext(ctx, query, args...)
}

func (o *ops) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.tx.QueryContext(ctx, query, args...)
}

func (o *ops) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return o.tx.QueryRowContext(ctx, query, args...)
}

func (o *ops) Commit() error {
	if o.closed {
		return o.err
	}
	o.closed = true
	if o.err != nil {
		o.tx.Rollback()
		return o.err
	}
	o.err = o.tx.Commit()
	return o.err
}

func (o *ops) Rollback() error {
	if o.closed {
		return nil
	}
	o.closed = true
	return o.tx.Rollback()
}

func (o *ops) Close() error {
	switch {
	case o.closed:
		return nil
	case o.autocommit && o.err == nil:
		return o.Commit()
	default:
		return o.Rollback()
	}
}

func (o *ops) Err() error {
	return o.err
}

// Fail marks the transaction as failed, the first error wins.
func (o *ops) Fail(err error) {
	if err == nil || o.err != nil {
		return
	}
	o.err = err
}
