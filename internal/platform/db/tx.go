package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type contextKey string

const (
	txKey    contextKey = "db_tx"
	hooksKey contextKey = "db_after_commit"
)

// TxFromContext returns the transaction opened by RunInTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// Conn returns the transaction bound to ctx, falling back to the pool.
// Repositories call it on every statement so a service can group several
// repository writes into one transaction without the repositories knowing.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return pool
}

// TxManager opens transactions and binds them to the context.
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// RunInTx runs fn inside a transaction. A transaction already bound to ctx is
// reused, so nested calls join the outer unit of work.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	if m.pool == nil {
		return errors.New("no database pool configured")
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	txCtx, committed := WithTx(ctx, tx)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed()
	return nil
}

// WithTx binds tx to ctx. The returned func runs the AfterCommit hooks
// registered on the new context and must be called once tx has committed.
func WithTx(ctx context.Context, tx pgx.Tx) (context.Context, func()) {
	hooks := &[]func(){}
	txCtx := context.WithValue(context.WithValue(ctx, txKey, tx), hooksKey, hooks)
	return txCtx, func() {
		for _, h := range *hooks {
			h()
		}
	}
}

// AfterCommit defers fn until the transaction bound to ctx commits. It is
// dropped if the transaction rolls back. Without a transaction fn runs now.
func AfterCommit(ctx context.Context, fn func()) {
	if hooks, ok := ctx.Value(hooksKey).(*[]func()); ok {
		*hooks = append(*hooks, fn)
		return
	}
	fn()
}
