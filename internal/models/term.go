package models

import "time"

// TermStatus represents the lifecycle of a scheduled course term.
// SCHEDULED, IN_PROGRESS and COMPLETED are derived from dates at read
// time; CANCELLED is the only explicitly written state and is sticky.
type TermStatus string

const (
	TermStatusScheduled  TermStatus = "SCHEDULED"
	TermStatusInProgress TermStatus = "IN_PROGRESS"
	TermStatusCompleted  TermStatus = "COMPLETED"
	TermStatusCancelled  TermStatus = "CANCELLED"
)

// CourseTerm is one time-boxed, capacity-bounded offering of a course.
type CourseTerm struct {
	ID           string     `db:"id" json:"id"`
	CourseID     string     `db:"course_id" json:"course_id"`
	TermNumber   int        `db:"term_number" json:"term_number"`
	StartDate    time.Time  `db:"start_date" json:"start_date"`
	EndDate      time.Time  `db:"end_date" json:"end_date"`
	DaysOfWeek   string     `db:"days_of_week" json:"days_of_week"`
	StartTime    string     `db:"start_time" json:"start_time"`
	EndTime      string     `db:"end_time" json:"end_time"`
	Status       TermStatus `db:"status" json:"status"`
	Capacity     int        `db:"capacity" json:"capacity"`
	InstructorID string     `db:"instructor_id" json:"instructor_id"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// EffectiveStatus derives the term status for the supplied point in time.
// Cancellation overrides the date window and never reverts.
func (t *CourseTerm) EffectiveStatus(now time.Time) TermStatus {
	if t.Status == TermStatusCancelled {
		return TermStatusCancelled
	}
	if now.Before(t.StartDate) {
		return TermStatusScheduled
	}
	if now.After(t.EndDate) {
		return TermStatusCompleted
	}
	return TermStatusInProgress
}

// HasStarted reports whether the term start date has been reached.
func (t *CourseTerm) HasStarted(now time.Time) bool {
	return !now.Before(t.StartDate)
}

// TermDetail extends CourseTerm with course and instructor context plus
// the derived status.
type TermDetail struct {
	CourseTerm
	CourseTitle     string     `db:"course_title" json:"course_title"`
	InstructorName  string     `db:"instructor_name" json:"instructor_name"`
	EffectiveStatus TermStatus `db:"-" json:"effective_status"`
}

// TermFilter defines filters supported by term list endpoints.
type TermFilter struct {
	CourseID     string
	InstructorID string
	Status       TermStatus
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// SeatAvailability reports occupancy of a term against its capacity.
type SeatAvailability struct {
	TermID    string `json:"term_id"`
	Capacity  int    `json:"capacity"`
	Taken     int    `json:"taken"`
	Available int    `json:"available"`
}
