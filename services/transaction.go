package services

import (
	"context"
	"fmt"

	"github.com/gfmateus5/Mateus2121/repositories"
)

// WithTransactionResult executes a function within a database transaction and returns a result.
// Uses generics to support any return type.
// Automatically commits on success, rolls back on error.
func WithTransactionResult[T any](ctx context.Context, txMgr repositories.TransactionManager, fn func(ctx context.Context, tx repositories.Transaction) (T, error)) (T, error) {
	var result T

	tx, err := txMgr.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Use defer to ensure rollback on panic
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p) // Re-panic after rollback
		}
	}()

	txCtx := tx.Context()
	if txCtx == nil {
		txCtx = ctx
	}

	// Execute the provided function
	result, err = fn(txCtx, tx)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return result, fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return result, err
	}

	// Commit the transaction
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}
