package services

import (
	"context"
	"errors"
	"testing"

	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTransactionManager is a mock implementation of TransactionManager
type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	args := m.Called(ctx)
	if tx := args.Get(0); tx != nil {
		return tx.(repositories.Transaction), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockTransaction is a mock implementation of Transaction
type MockTransaction struct {
	mock.Mock
}

func (m *MockTransaction) Commit() error {
	return m.Called().Error(0)
}

func (m *MockTransaction) Rollback() error {
	return m.Called().Error(0)
}

func (m *MockTransaction) Context() context.Context {
	return m.Called().Get(0).(context.Context)
}

type txKey struct{}

func TestWithTransactionResult(t *testing.T) {
	stepErr := errors.New("failed to link course ES21")

	tests := []struct {
		name         string
		beginErr     error
		stepErr      error
		commitErr    error
		rollbackErr  error
		wantRollback bool
		wantCommit   bool
		wantResult   string
		wantErrIs    error
		wantErrText  string
	}{
		{
			name:       "commits the step result",
			wantCommit: true,
			wantResult: "ist1",
		},
		{
			name:         "step error rolls back",
			stepErr:      stepErr,
			wantRollback: true,
			wantErrIs:    stepErr,
		},
		{
			name:         "rollback failure keeps the step error",
			stepErr:      stepErr,
			rollbackErr:  errors.New("connection reset"),
			wantRollback: true,
			wantErrIs:    stepErr,
			wantErrText:  "rollback error: connection reset",
		},
		{
			name:        "begin failure",
			beginErr:    errors.New("pool exhausted"),
			wantErrText: "failed to begin transaction",
		},
		{
			name:        "commit conflict stays matchable",
			commitErr:   repositories.ErrConflict,
			wantCommit:  true,
			wantErrIs:   repositories.ErrConflict,
			wantErrText: "failed to commit transaction",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			txCtx := context.WithValue(ctx, txKey{}, "tx")
			txMgr := new(MockTransactionManager)
			tx := new(MockTransaction)

			if tt.beginErr != nil {
				txMgr.On("Begin", ctx).Return(nil, tt.beginErr)
			} else {
				txMgr.On("Begin", ctx).Return(tx, nil)
				tx.On("Context").Return(txCtx)
			}
			if tt.wantRollback {
				tx.On("Rollback").Return(tt.rollbackErr)
			}
			if tt.wantCommit {
				tx.On("Commit").Return(tt.commitErr)
			}

			got, err := WithTransactionResult(ctx, txMgr, func(ctx context.Context, _ repositories.Transaction) (string, error) {
				assert.Equal(t, "tx", ctx.Value(txKey{}), "step must run on the transaction context")
				if tt.stepErr != nil {
					return "", tt.stepErr
				}
				return "ist1", nil
			})

			if tt.wantErrIs == nil && tt.wantErrText == "" {
				require.NoError(t, err)
				assert.Equal(t, tt.wantResult, got)
			} else {
				require.Error(t, err)
				if tt.wantErrIs != nil {
					assert.ErrorIs(t, err, tt.wantErrIs)
				}
				if tt.wantErrText != "" {
					assert.Contains(t, err.Error(), tt.wantErrText)
				}
			}

			txMgr.AssertExpectations(t)
			tx.AssertExpectations(t)
		})
	}
}

func TestWithTransactionResult_PanicRollsBack(t *testing.T) {
	ctx := context.Background()
	txMgr := new(MockTransactionManager)
	tx := new(MockTransaction)

	txMgr.On("Begin", ctx).Return(tx, nil)
	tx.On("Context").Return(ctx)
	tx.On("Rollback").Return(nil)

	assert.PanicsWithValue(t, "boom", func() {
		_, _ = WithTransactionResult(ctx, txMgr, func(context.Context, repositories.Transaction) (int, error) {
			panic("boom")
		})
	})
	tx.AssertExpectations(t)
}
