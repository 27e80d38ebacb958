package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

const selectUserColumns = `
		SELECT id, username, name, role, course_execution_acronyms, created_at, updated_at
		FROM users
`

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, username, name, role, course_execution_acronyms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Name,
		user.Role,
		user.CourseExecutionAcronyms,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return wrapError("failed to create user", err)
	}

	r.logger.Debug("user created",
		zap.String("id", user.ID.String()),
		zap.String("username", user.Username),
		zap.String("role", string(user.Role)))
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getOne(ctx, selectUserColumns+`		WHERE id = $1`, id)
}

// GetByUsername retrieves a user by username
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.getOne(ctx, selectUserColumns+`		WHERE username = $1`, username)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	executor := GetExecutor(ctx, r.db)
	user := &models.User{}

	err := executor.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Name,
		&user.Role,
		&user.CourseExecutionAcronyms,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, wrapError(fmt.Sprintf("failed to get user %v", arg), err)
	}

	return user, nil
}

// AddCourseExecution links a course execution to the user
func (r *UserRepository) AddCourseExecution(ctx context.Context, userID, courseExecutionID uuid.UUID) error {
	query := `
		INSERT INTO users_course_executions (user_id, course_execution_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, course_execution_id) DO NOTHING
	`

	executor := GetExecutor(ctx, r.db)
	if _, err := executor.ExecContext(ctx, query, userID, courseExecutionID); err != nil {
		return wrapError("failed to link course execution", err)
	}

	r.logger.Debug("course execution linked",
		zap.String("user_id", userID.String()),
		zap.String("course_execution_id", courseExecutionID.String()))
	return nil
}

// UpdateCourseExecutionAcronyms stores the cached teaching acronyms
func (r *UserRepository) UpdateCourseExecutionAcronyms(ctx context.Context, userID uuid.UUID, acronyms string) error {
	query := `
		UPDATE users
		SET course_execution_acronyms = $2,
		    updated_at = $3
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, userID, acronyms, time.Now())
	if err != nil {
		return wrapError("failed to update course execution acronyms", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, repositories.ErrNotFound)
	}

	r.logger.Debug("course execution acronyms updated", zap.String("id", userID.String()))
	return nil
}
