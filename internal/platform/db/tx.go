package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxStarter is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxStarter interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Querier is the statement surface shared by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scopeKey struct{}

type txScope struct {
	tx          pgx.Tx
	afterCommit []func(context.Context)
}

func scopeFrom(ctx context.Context) *txScope {
	scope, _ := ctx.Value(scopeKey{}).(*txScope)
	return scope
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
// The transaction is rolled back when fn returns an error. Inside InTx, fn joins the scoped transaction
// and the scope decides the outcome.
func WithTx(ctx context.Context, starter TxStarter, fn func(pgx.Tx) error) error {
	if scope := scopeFrom(ctx); scope != nil && scope.tx != nil {
		return fn(scope.tx)
	}

	tx, err := starter.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// InTx runs fn in one RepeatableRead transaction carried by the context it receives. Repositories reach that
// transaction through Conn and WithTx, so their reads and writes commit or roll back together.
// Nested calls join the outermost scope. A nil starter opens a scope without a database transaction,
// for in-memory stores that still need AfterCommit ordering.
func InTx(ctx context.Context, starter TxStarter, fn func(ctx context.Context) error) error {
	if scopeFrom(ctx) != nil {
		return fn(ctx)
	}
	scope := &txScope{}
	scoped := context.WithValue(ctx, scopeKey{}, scope)

	var err error
	if starter == nil {
		err = fn(scoped)
	} else {
		err = WithTx(ctx, starter, func(tx pgx.Tx) error {
			scope.tx = tx
			return fn(scoped)
		})
	}
	if err != nil {
		return err
	}
	for _, cb := range scope.afterCommit {
		cb(ctx)
	}
	return nil
}

// Conn returns the transaction scoped on ctx, or q when there is none.
func Conn(ctx context.Context, q Querier) Querier {
	if scope := scopeFrom(ctx); scope != nil && scope.tx != nil {
		return scope.tx
	}
	return q
}

// AfterCommit defers fn until the scope on ctx commits; it is dropped on rollback.
// Outside InTx fn runs immediately.
func AfterCommit(ctx context.Context, fn func(ctx context.Context)) {
	if scope := scopeFrom(ctx); scope != nil {
		scope.afterCommit = append(scope.afterCommit, fn)
		return
	}
	fn(ctx)
}
