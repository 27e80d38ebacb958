package models

import (
	"github.com/google/uuid"
)

// AuthResult is returned to the client after a successful login
type AuthResult struct {
	Token        string            `json:"token"`
	User         *AuthUser         `json:"user"`
	ExtraCourses []CourseReference `json:"extraCourses,omitempty"`
}

// CourseSummary describes a linked course execution in the login response
type CourseSummary struct {
	ID           uuid.UUID `json:"id"`
	Acronym      string    `json:"acronym"`
	Name         string    `json:"name"`
	AcademicTerm string    `json:"academicTerm"`
}

// AuthUser is the user summary sent alongside the session token.
// Courses are grouped by academic term.
type AuthUser struct {
	ID       uuid.UUID                  `json:"id"`
	Username string                     `json:"username"`
	Name     string                     `json:"name"`
	Role     UserRole                   `json:"role"`
	Courses  map[string][]CourseSummary `json:"courses"`
}

// NewAuthUser builds the summary for the given user
func NewAuthUser(user *User) *AuthUser {
	courses := make(map[string][]CourseSummary)
	for _, c := range user.CourseExecutions {
		courses[c.AcademicTerm] = append(courses[c.AcademicTerm], CourseSummary{
			ID:           c.ID,
			Acronym:      c.Acronym,
			Name:         c.Name,
			AcademicTerm: c.AcademicTerm,
		})
	}
	return &AuthUser{
		ID:       user.ID,
		Username: user.Username,
		Name:     user.Name,
		Role:     user.Role,
		Courses:  courses,
	}
}
