// Package enrollment merges the course affiliations asserted by Fenix into the
// local user and course graph.
package enrollment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gfmateus5/Mateus2121/models"
	"github.com/gfmateus5/Mateus2121/repositories"
	"github.com/gfmateus5/Mateus2121/services"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Branch names the rule that accepted a login
type Branch string

const (
	BranchStudent Branch = "student"
	BranchTeacher Branch = "teacher"
	BranchAdmin   Branch = "admin"
)

// CourseDirectory resolves local course executions by exact acronym.
// It returns repositories.ErrNotFound for unknown acronyms.
type CourseDirectory interface {
	GetByAcronym(ctx context.Context, acronym string) (*models.CourseExecution, error)
}

// Input is everything the reconciler needs for one login
type Input struct {
	Profile     models.Profile
	Enrollments models.Enrollments
	// Existing is the stored user for Profile.Username, nil when absent
	Existing *models.User
}

// Outcome is the reconciled user plus the delta that must be persisted
type Outcome struct {
	User   *models.User
	Branch Branch

	// Created is set when User does not exist in the store yet
	Created bool
	// NewLinks are course executions linked during this call
	NewLinks []*models.CourseExecution
	// AcronymsChanged is set when the cached teaching acronyms differ from the stored value
	AcronymsChanged bool
	// ExtraCourses are teaching references with no local course execution
	ExtraCourses []models.CourseReference
}

// Reconciler decides role and course links for an authenticated profile.
// It never writes to the store.
type Reconciler struct {
	courses CourseDirectory
	logger  *zap.Logger
}

// NewReconciler creates a reconciler backed by the given course directory
func NewReconciler(courses CourseDirectory, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		courses: courses,
		logger:  logger,
	}
}

// Reconcile applies the enrollment rules in order: attending courses first,
// then teaching courses, then existing administrators. Anything else is
// rejected with a UserNotEnrolled error.
func (r *Reconciler) Reconcile(ctx context.Context, in Input) (*Outcome, error) {
	username := in.Profile.Username

	attending, _, err := r.resolve(ctx, in.Enrollments.Attending)
	if err != nil {
		return nil, err
	}
	teaching, unmatchedTeaching, err := r.resolve(ctx, in.Enrollments.Teaching)
	if err != nil {
		return nil, err
	}

	out := &Outcome{User: in.Existing}

	if out.User == nil {
		switch {
		case len(attending) > 0:
			out.User = models.NewUser(in.Profile.DisplayName, username, models.RoleStudent)
		case len(teaching) > 0:
			out.User = models.NewUser(in.Profile.DisplayName, username, models.RoleTeacher)
		default:
			return nil, services.NewUserNotEnrolledError(username)
		}
		out.Created = true
	}

	switch {
	case len(attending) > 0:
		out.Branch = BranchStudent
		out.NewLinks = link(out.User, attending)

	case len(teaching) > 0:
		out.Branch = BranchTeacher
		out.NewLinks = link(out.User, teaching)

		previous := out.User.CourseExecutionAcronyms
		out.User.SetCourseExecutionAcronyms(in.Enrollments.TeachingAcronyms())
		out.AcronymsChanged = out.User.CourseExecutionAcronyms != previous
		out.ExtraCourses = unmatchedTeaching

	case out.User.IsAdmin():
		out.Branch = BranchAdmin

	default:
		return nil, services.NewUserNotEnrolledError(username)
	}

	r.logger.Debug("enrollments reconciled",
		zap.String("username", username),
		zap.String("branch", string(out.Branch)),
		zap.String("role", string(out.User.Role)),
		zap.Bool("created", out.Created),
		zap.Int("new_links", len(out.NewLinks)),
		zap.Int("extra_courses", len(out.ExtraCourses)))

	return out, nil
}

// resolve looks up every reference, de-duplicating matches by course ID.
// Unknown acronyms are returned separately in provider order.
func (r *Reconciler) resolve(ctx context.Context, refs []models.CourseReference) ([]*models.CourseExecution, []models.CourseReference, error) {
	var matched []*models.CourseExecution
	var unmatched []models.CourseReference
	seen := make(map[uuid.UUID]struct{}, len(refs))

	for _, ref := range refs {
		course, err := r.courses.GetByAcronym(ctx, ref.Acronym)
		if errors.Is(err, repositories.ErrNotFound) {
			unmatched = append(unmatched, ref)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve course %q: %w", ref.Acronym, err)
		}

		if _, dup := seen[course.ID]; dup {
			continue
		}
		seen[course.ID] = struct{}{}
		matched = append(matched, course)
	}

	return matched, unmatched, nil
}

// link adds every course not already on the user and returns the ones added
func link(user *models.User, courses []*models.CourseExecution) []*models.CourseExecution {
	var added []*models.CourseExecution
	for _, course := range courses {
		if user.AddCourse(course) {
			added = append(added, course)
		}
	}
	return added
}
