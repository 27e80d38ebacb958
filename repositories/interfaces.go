package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/gfmateus5/Mateus2121/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when the database rejected a statement because of a
	// concurrent transaction (serialization failure, deadlock or duplicate key).
	// Callers may retry the whole transaction.
	ErrConflict = errors.New("concurrent modification conflict")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context. Repositories called with this
	// context run their statements inside the transaction.
	Context() context.Context
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create creates a new user. Returns ErrConflict when the username is taken.
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID. Course links are not loaded.
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByUsername retrieves a user by username. Course links are not loaded;
	// use CourseExecutionRepository.GetByUserID. Returns ErrNotFound when no user exists.
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// AddCourseExecution links a course execution to the user. Existing links are left untouched.
	AddCourseExecution(ctx context.Context, userID, courseExecutionID uuid.UUID) error

	// UpdateCourseExecutionAcronyms stores the cached teaching acronyms
	UpdateCourseExecutionAcronyms(ctx context.Context, userID uuid.UUID, acronyms string) error
}

// CourseExecutionRepository handles course execution lookups
type CourseExecutionRepository interface {
	// GetByAcronym retrieves a course execution by its exact acronym.
	// Returns ErrNotFound when no execution matches.
	GetByAcronym(ctx context.Context, acronym string) (*models.CourseExecution, error)

	// GetByUserID retrieves all course executions linked to a user,
	// ordered by academic term and acronym
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.CourseExecution, error)
}

// AuditRepository handles login audit data operations
type AuditRepository interface {
	// Insert inserts a new audit log entry
	Insert(ctx context.Context, log *models.AuditLog) error

	// GetByUsername retrieves audit logs for a username with pagination
	GetByUsername(ctx context.Context, username string, limit, offset int) ([]*models.AuditLog, error)

	// GetByDateRange retrieves audit logs within a date range
	GetByDateRange(ctx context.Context, start, end time.Time, limit, offset int) ([]*models.AuditLog, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users            UserRepository
	CourseExecutions CourseExecutionRepository
	AuditLogs        AuditRepository
}
