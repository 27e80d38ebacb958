package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserRole represents the role of a user in the tutor
type UserRole string

const (
	RoleStudent UserRole = "STUDENT"
	RoleTeacher UserRole = "TEACHER"
	RoleAdmin   UserRole = "ADMIN"
)

// IsValid reports whether the role is one of the known roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// User represents a local user authenticated via Fenix
type User struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Username string    `json:"username" db:"username"`
	Name     string    `json:"name" db:"name"`
	Role     UserRole  `json:"role" db:"role"`

	// CourseExecutionAcronyms caches the provider's full teaching list, comma separated.
	CourseExecutionAcronyms string `json:"course_execution_acronyms,omitempty" db:"course_execution_acronyms"`

	CourseExecutions []*CourseExecution `json:"course_executions,omitempty" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewUser creates a new User instance with no course links
func NewUser(name, username string, role UserRole) *User {
	now := time.Now()
	return &User{
		ID:        uuid.New(),
		Username:  username,
		Name:      name,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsAdmin returns true if the user has admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasCourse reports whether the user is already linked to the course execution
func (u *User) HasCourse(course *CourseExecution) bool {
	for _, c := range u.CourseExecutions {
		if c.ID == course.ID {
			return true
		}
	}
	return false
}

// AddCourse links the course execution to the user. Returns false when the link already existed.
func (u *User) AddCourse(course *CourseExecution) bool {
	if u.HasCourse(course) {
		return false
	}
	u.CourseExecutions = append(u.CourseExecutions, course)
	return true
}

// SetCourseExecutionAcronyms replaces the cached teaching acronyms
func (u *User) SetCourseExecutionAcronyms(acronyms []string) {
	u.CourseExecutionAcronyms = strings.Join(acronyms, ",")
}
