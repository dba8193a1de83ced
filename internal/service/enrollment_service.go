package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lentera-edu/lms-api/internal/metrics"
	"github.com/lentera-edu/lms-api/internal/models"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
)

type enrollmentRepository interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	InsertActive(ctx context.Context, enrollment *models.Enrollment) (models.SeatCount, error)
	MarkCancelled(ctx context.Context, id string, now time.Time) (bool, error)
}

type termReader interface {
	FindByID(ctx context.Context, id string) (*models.CourseTerm, error)
}

type admissionRecorder interface {
	ObserveAdmission(outcome string)
}

// EnrollRequest identifies the seat claim.
type EnrollRequest struct {
	TermID    string `json:"term_id" validate:"required"`
	StudentID string `json:"-"`
}

// EnrollmentService admits students into terms and releases their seats.
// Admission correctness (duplicate guard, capacity) lives in the
// repository's locked transaction; this layer owns eligibility and
// translates refusals into typed errors.
type EnrollmentService struct {
	repo      enrollmentRepository
	terms     termReader
	courses   courseReader
	users     applicantReader
	cache     cacheStore
	recorder  admissionRecorder
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(repo enrollmentRepository, terms termReader, courses courseReader, users applicantReader, cache cacheStore, recorder admissionRecorder, validate *validator.Validate, logger *zap.Logger) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		repo:      repo,
		terms:     terms,
		courses:   courses,
		users:     users,
		cache:     cache,
		recorder:  recorder,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// List returns enrollments matching the filter.
func (s *EnrollmentService) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	enrollments, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a single enrollment detail.
func (s *EnrollmentService) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return detail, nil
}

// Enroll claims a seat for a student. Eligibility is checked up front;
// the duplicate and capacity invariants are enforced atomically inside
// the repository transaction, so two racing claims on the last seat
// resolve to exactly one admission.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		s.observe(metrics.OutcomeIneligible)
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}

	student, err := s.users.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			s.observe(metrics.OutcomeIneligible)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		s.observe(metrics.OutcomeError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.Role != models.RoleStudent {
		s.observe(metrics.OutcomeIneligible)
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can enroll")
	}
	if !student.Active {
		s.observe(metrics.OutcomeIneligible)
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "inactive accounts cannot enroll")
	}

	term, err := s.terms.FindByID(ctx, req.TermID)
	if err != nil {
		if err == sql.ErrNoRows {
			s.observe(metrics.OutcomeIneligible)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		s.observe(metrics.OutcomeError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	now := s.now().UTC()
	switch term.EffectiveStatus(now) {
	case models.TermStatusCancelled:
		s.observe(metrics.OutcomeIneligible)
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidState, "term is cancelled"), map[string]interface{}{
			"term_id": term.ID,
		})
	case models.TermStatusCompleted:
		s.observe(metrics.OutcomeIneligible)
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidState, "term has ended"), map[string]interface{}{
			"term_id":  term.ID,
			"end_date": term.EndDate,
		})
	}

	course, err := s.courses.FindByID(ctx, term.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			s.observe(metrics.OutcomeIneligible)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		s.observe(metrics.OutcomeError)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Status != models.CourseStatusOpen {
		s.observe(metrics.OutcomeIneligible)
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidState, "course is not open for enrollment"), map[string]interface{}{
			"course_id": course.ID,
			"status":    course.Status,
		})
	}

	enrollment := &models.Enrollment{
		TermID:    req.TermID,
		StudentID: req.StudentID,
		CreatedAt: now,
	}
	seats, err := s.repo.InsertActive(ctx, enrollment)
	if err != nil {
		switch {
		case appErrors.Is(err, appErrors.ErrAlreadyEnrolled):
			s.observe(metrics.OutcomeDuplicate)
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrAlreadyEnrolled, ""), map[string]interface{}{
				"term_id":    req.TermID,
				"student_id": req.StudentID,
			})
		case appErrors.Is(err, appErrors.ErrCapacityExceeded):
			s.observe(metrics.OutcomeFull)
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrCapacityExceeded, ""), map[string]interface{}{
				"term_id":  req.TermID,
				"capacity": seats.Capacity,
				"taken":    seats.Active,
			})
		case err == sql.ErrNoRows:
			s.observe(metrics.OutcomeIneligible)
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		default:
			s.observe(metrics.OutcomeError)
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll")
		}
	}

	s.observe(metrics.OutcomeAdmitted)
	s.logger.Info("student enrolled",
		zap.String("term_id", req.TermID),
		zap.String("student_id", req.StudentID),
		zap.Int("seats_taken", seats.Active),
		zap.Int("capacity", seats.Capacity))
	s.invalidateSeats(ctx, req.TermID)
	return enrollment, nil
}

// Cancel releases a seat. Students may only release their own; admins
// may release any. A seat cannot be released once the term has started.
func (s *EnrollmentService) Cancel(ctx context.Context, id, actorID string, actorRole models.UserRole) (*models.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	if actorRole != models.RoleAdmin && enrollment.StudentID != actorID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "cannot cancel another student's enrollment")
	}
	if enrollment.Status == models.EnrollmentStatusCancelled {
		s.observe(metrics.OutcomeCancelDenied)
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrAlreadyCancelled, "enrollment already cancelled"), map[string]interface{}{
			"enrollment_id": id,
		})
	}

	term, err := s.terms.FindByID(ctx, enrollment.TermID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	now := s.now().UTC()
	if term.Status != models.TermStatusCancelled && term.HasStarted(now) {
		s.observe(metrics.OutcomeCancelDenied)
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrCannotCancelStarted, ""), map[string]interface{}{
			"enrollment_id": id,
			"term_id":       term.ID,
			"start_date":    term.StartDate,
		})
	}

	ok, err := s.repo.MarkCancelled(ctx, id, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel enrollment")
	}
	if !ok {
		s.observe(metrics.OutcomeCancelDenied)
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrAlreadyCancelled, "enrollment already cancelled"), map[string]interface{}{
			"enrollment_id": id,
		})
	}

	s.observe(metrics.OutcomeCancelled)
	s.invalidateSeats(ctx, enrollment.TermID)

	enrollment.Status = models.EnrollmentStatusCancelled
	enrollment.CancelledAt = &now
	enrollment.UpdatedAt = now
	return enrollment, nil
}

func (s *EnrollmentService) observe(outcome string) {
	if s.recorder != nil {
		s.recorder.ObserveAdmission(outcome)
	}
}

func (s *EnrollmentService) invalidateSeats(ctx context.Context, termID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, seatsCacheKey(termID)); err != nil {
		s.logger.Warn("seats cache invalidation failed", zap.String("term_id", termID), zap.Error(err))
	}
}
