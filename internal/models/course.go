package models

import "time"

// CourseStatus represents the lifecycle state of a course definition.
type CourseStatus string

const (
	CourseStatusDraft    CourseStatus = "DRAFT"
	CourseStatusOpen     CourseStatus = "OPEN"
	CourseStatusClosed   CourseStatus = "CLOSED"
	CourseStatusArchived CourseStatus = "ARCHIVED"
)

// courseTransitions is the fixed allowed transition table. A closed or
// archived course is never reopened.
var courseTransitions = map[CourseStatus]map[CourseStatus]bool{
	CourseStatusDraft: {
		CourseStatusOpen:     true,
		CourseStatusArchived: true,
	},
	CourseStatusOpen: {
		CourseStatusClosed: true,
	},
	CourseStatusClosed: {
		CourseStatusArchived: true,
	},
}

// IsValid reports whether the value is a known course status.
func (s CourseStatus) IsValid() bool {
	switch s {
	case CourseStatusDraft, CourseStatusOpen, CourseStatusClosed, CourseStatusArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether the (current, target) pair is allowed.
func (s CourseStatus) CanTransitionTo(target CourseStatus) bool {
	return courseTransitions[s][target]
}

// Course is an approved, reusable course definition. Scheduling happens
// through its terms; the course itself only carries catalog metadata and
// the status state machine.
type Course struct {
	ID          string       `db:"id" json:"id"`
	Title       string       `db:"title" json:"title"`
	Description string       `db:"description" json:"description"`
	MaxCapacity int          `db:"max_capacity" json:"max_capacity"`
	Status      CourseStatus `db:"status" json:"status"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// CourseFilter defines filter criteria for listing courses.
type CourseFilter struct {
	Status    CourseStatus
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// UpdateCourseInput carries the optional fields of a partial update.
type UpdateCourseInput struct {
	Title       *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	MaxCapacity *int    `json:"max_capacity" validate:"omitempty,min=1"`
}
