package models

// CourseReference is the provider's description of a course offering.
// The acronym is the only field used to match local course executions.
type CourseReference struct {
	Acronym      string `json:"acronym" validate:"required"`
	Name         string `json:"name"`
	AcademicTerm string `json:"academicTerm"`
}

// Profile is the identity asserted by the provider for the authenticated person
type Profile struct {
	Username    string `json:"username" validate:"required"`
	DisplayName string `json:"name"`
}

// Enrollments holds the course lists reported by the provider
type Enrollments struct {
	Attending []CourseReference `json:"attending" validate:"dive"`
	Teaching  []CourseReference `json:"teaching" validate:"dive"`
}

// TeachingAcronyms returns the acronyms of every teaching reference, in provider order
func (e *Enrollments) TeachingAcronyms() []string {
	acronyms := make([]string, 0, len(e.Teaching))
	for _, ref := range e.Teaching {
		acronyms = append(acronyms, ref.Acronym)
	}
	return acronyms
}
