package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. Enrollments are never deleted; a
// cancelled row stays behind as the audit trail.
const (
	EnrollmentStatusActive    EnrollmentStatus = "ACTIVE"
	EnrollmentStatusCancelled EnrollmentStatus = "CANCELLED"
)

// Enrollment is a student's claim on a seat in a course term.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	TermID      string           `db:"term_id" json:"term_id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	CancelledAt *time.Time       `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and term info.
type EnrollmentDetail struct {
	Enrollment
	StudentName  string    `db:"student_name" json:"student_name"`
	StudentEmail string    `db:"student_email" json:"student_email"`
	CourseTitle  string    `db:"course_title" json:"course_title"`
	TermNumber   int       `db:"term_number" json:"term_number"`
	TermStart    time.Time `db:"term_start" json:"term_start"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	TermID    string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// SeatCount is the occupancy snapshot taken inside the enrollment
// transaction, used for error context and availability reads.
type SeatCount struct {
	Capacity int
	Active   int
}
