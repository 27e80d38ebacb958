package models

import (
	"github.com/google/uuid"
)

// CourseExecutionStatus is the lifecycle state of a course execution
type CourseExecutionStatus string

const (
	CourseExecutionActive   CourseExecutionStatus = "ACTIVE"
	CourseExecutionInactive CourseExecutionStatus = "INACTIVE"
	CourseExecutionHistoric CourseExecutionStatus = "HISTORIC"
)

// CourseExecution is a local offering of a course, keyed by its acronym.
// Executions are maintained outside of the login flow; authentication only reads and links them.
type CourseExecution struct {
	ID           uuid.UUID             `json:"id" db:"id"`
	Acronym      string                `json:"acronym" db:"acronym"`
	Name         string                `json:"name" db:"name"`
	AcademicTerm string                `json:"academic_term" db:"academic_term"`
	Status       CourseExecutionStatus `json:"status" db:"status"`
}

// NewCourseExecution creates a new active CourseExecution
func NewCourseExecution(acronym, name, academicTerm string) *CourseExecution {
	return &CourseExecution{
		ID:           uuid.New(),
		Acronym:      acronym,
		Name:         name,
		AcademicTerm: academicTerm,
		Status:       CourseExecutionActive,
	}
}
