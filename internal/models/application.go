package models

import "time"

// ApplicationStatus represents the review state of a course application.
type ApplicationStatus string

const (
	ApplicationStatusPending  ApplicationStatus = "PENDING"
	ApplicationStatusApproved ApplicationStatus = "APPROVED"
	ApplicationStatusRejected ApplicationStatus = "REJECTED"
)

// Input length bounds enforced on submission.
const (
	ApplicationTitleMaxLen       = 200
	ApplicationDescriptionMaxLen = 2000
	ApplicationRejectReasonMax   = 500
)

// CourseApplication is an instructor's proposal to open a new course.
// PENDING is the only state with outgoing transitions; a reviewed
// application is immutable.
type CourseApplication struct {
	ID           string            `db:"id" json:"id"`
	Title        string            `db:"title" json:"title"`
	Description  string            `db:"description" json:"description"`
	Capacity     int               `db:"capacity" json:"capacity"`
	ApplicantID  string            `db:"applicant_id" json:"applicant_id"`
	Status       ApplicationStatus `db:"status" json:"status"`
	RejectReason *string           `db:"reject_reason" json:"reject_reason,omitempty"`
	CourseID     *string           `db:"course_id" json:"course_id,omitempty"`
	ReviewedBy   *string           `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time        `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// IsPending reports whether the application can still be reviewed.
func (a *CourseApplication) IsPending() bool {
	return a.Status == ApplicationStatusPending
}

// ApplicationDetail enriches CourseApplication with applicant info.
type ApplicationDetail struct {
	CourseApplication
	ApplicantName  string `db:"applicant_name" json:"applicant_name"`
	ApplicantEmail string `db:"applicant_email" json:"applicant_email"`
}

// ApplicationFilter provides filters for listing applications.
type ApplicationFilter struct {
	ApplicantID string
	Status      ApplicationStatus
	Page        int
	PageSize    int
	SortBy      string
	SortOrder   string
}
