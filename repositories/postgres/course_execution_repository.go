package postgres

import (
	"context"
	"fmt"

	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CourseExecutionRepository implements the repositories.CourseExecutionRepository interface
type CourseExecutionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewCourseExecutionRepository creates a new course execution repository
func NewCourseExecutionRepository(db *DB, logger *zap.Logger) repositories.CourseExecutionRepository {
	return &CourseExecutionRepository{
		db:     db,
		logger: logger,
	}
}

// GetByAcronym retrieves a course execution by its exact acronym
func (r *CourseExecutionRepository) GetByAcronym(ctx context.Context, acronym string) (*models.CourseExecution, error) {
	query := `
		SELECT id, acronym, name, academic_term, status
		FROM course_executions
		WHERE acronym = $1
	`

	executor := GetExecutor(ctx, r.db)
	course := &models.CourseExecution{}

	err := executor.QueryRowContext(ctx, query, acronym).Scan(
		&course.ID,
		&course.Acronym,
		&course.Name,
		&course.AcademicTerm,
		&course.Status,
	)
	if err != nil {
		return nil, wrapError(fmt.Sprintf("failed to get course execution %q", acronym), err)
	}

	return course, nil
}

// GetByUserID retrieves all course executions linked to a user
func (r *CourseExecutionRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*models.CourseExecution, error) {
	query := `
		SELECT ce.id, ce.acronym, ce.name, ce.academic_term, ce.status
		FROM course_executions ce
		JOIN users_course_executions uce ON uce.course_execution_id = ce.id
		WHERE uce.user_id = $1
		ORDER BY ce.academic_term, ce.acronym
	`

	return queryCourseExecutions(ctx, GetExecutor(ctx, r.db), query, userID)
}

func queryCourseExecutions(ctx context.Context, executor Executor, query string, args ...interface{}) ([]*models.CourseExecution, error) {
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapError("failed to query course executions", err)
	}
	defer rows.Close()

	var courses []*models.CourseExecution
	for rows.Next() {
		course := &models.CourseExecution{}
		err := rows.Scan(
			&course.ID,
			&course.Acronym,
			&course.Name,
			&course.AcademicTerm,
			&course.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan course execution: %w", err)
		}
		courses = append(courses, course)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating course execution rows: %w", err)
	}

	return courses, nil
}
