package repository

import (
	"context"
	"time"

	"docpipeline/internal/port/outbound"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultTxRetries = 2
	txRetryBackoff   = 20 * time.Millisecond
)

// TransactionManager runs units of work in a single PostgreSQL transaction.
// Deadlocks and serialization failures are retried a bounded number of times.
type TransactionManager struct {
	pool    *pgxpool.Pool
	retries int
}

var _ outbound.Transactor = (*TransactionManager)(nil)

// NewTransactionManager creates a transaction manager for pool.
func NewTransactionManager(pool *pgxpool.Pool) *TransactionManager {
	return &TransactionManager{pool: pool, retries: defaultTxRetries}
}

// WithTransaction runs fn inside a transaction carried by the context passed
// to it. Nested calls join the outer transaction.
func (tm *TransactionManager) WithTransaction(ctx context.Context, fn func(context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}

	for attempt := 0; ; attempt++ {
		err := pgx.BeginFunc(ctx, tm.pool, func(tx pgx.Tx) error {
			return fn(context.WithValue(ctx, txKey{}, tx))
		})
		if err == nil || attempt >= tm.retries || !isRetryableTxError(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(txRetryBackoff << attempt):
		}
	}
}

type txKey struct{}

func txFrom(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// executor returns the transaction in ctx, or pool outside of one.
func executor(ctx context.Context, pool *pgxpool.Pool) dbtx {
	if tx := txFrom(ctx); tx != nil {
		return tx
	}
	return pool
}
