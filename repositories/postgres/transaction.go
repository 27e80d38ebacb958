package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gfmateus5/Mateus2121/repositories"
	"go.uber.org/zap"
)

// transactionContextKey is the context key for storing transactions
type transactionContextKey struct{}

// TransactionManager implements the TransactionManager interface
type TransactionManager struct {
	db     *DB
	opts   *sql.TxOptions
	logger *zap.Logger
}

// NewTransactionManager creates a new transaction manager.
// Transactions run with REPEATABLE READ isolation so that reads inside one
// login attempt are stable and concurrent writers surface as conflicts.
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return NewTransactionManagerWithIsolation(db, sql.LevelRepeatableRead, logger)
}

// NewTransactionManagerWithIsolation creates a transaction manager using the given isolation level
func NewTransactionManagerWithIsolation(db *DB, level sql.IsolationLevel, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{
		db:     db,
		opts:   &sql.TxOptions{Isolation: level},
		logger: logger,
	}
}

// Begin starts a new transaction
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := tm.db.BeginTx(ctx, tm.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tm.logger.Debug("transaction started", zap.String("isolation", tm.opts.Isolation.String()))

	tx := &Transaction{
		tx:     sqlTx,
		logger: tm.logger,
	}
	tx.ctx = context.WithValue(ctx, transactionContextKey{}, tx)
	return tx, nil
}

// Transaction implements the Transaction interface
type Transaction struct {
	tx     *sql.Tx
	ctx    context.Context
	logger *zap.Logger
}

// Commit commits the transaction. Serialization failures reported at commit
// time are returned as repositories.ErrConflict.
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if IsConflict(err) {
			return fmt.Errorf("failed to commit transaction: %w (%v)", repositories.ErrConflict, err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.logger.Debug("transaction committed")
	return nil
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		// Ignore error if transaction is already closed
		if errors.Is(err, sql.ErrTxDone) {
			return nil
		}
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	t.logger.Debug("transaction rolled back")
	return nil
}

// Context returns the transaction context
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// GetTransactionFromContext retrieves a transaction from the context if available
func GetTransactionFromContext(ctx context.Context) (repositories.Transaction, bool) {
	tx, ok := ctx.Value(transactionContextKey{}).(repositories.Transaction)
	return tx, ok
}

// Executor is an interface that can execute queries (both *sql.DB and *sql.Tx)
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetExecutor returns the appropriate executor based on the context
// If a transaction is present in the context, it returns the transaction
// Otherwise, it returns the database connection
func GetExecutor(ctx context.Context, db *DB) Executor {
	if tx, ok := GetTransactionFromContext(ctx); ok {
		if pgTx, ok := tx.(*Transaction); ok {
			return pgTx.tx
		}
	}
	return db.DB
}
