package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lentera-edu/lms-api/internal/models"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
)

type termRepository interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.TermDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.CourseTerm, error)
	FindDetailByID(ctx context.Context, id string) (*models.TermDetail, error)
	ExistsByCourseAndNumber(ctx context.Context, courseID string, termNumber int, excludeID string) (bool, error)
	Create(ctx context.Context, term *models.CourseTerm) error
	Update(ctx context.Context, term *models.CourseTerm) error
	MarkCancelled(ctx context.Context, id string, now time.Time) (bool, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type termEnrollmentStore interface {
	CountActiveByTerm(ctx context.Context, termID string) (int, error)
	CancelActiveByTerm(ctx context.Context, termID string, now time.Time) (int, error)
}

// CreateTermRequest describes a new term offering.
type CreateTermRequest struct {
	CourseID     string    `json:"course_id" validate:"required"`
	TermNumber   int       `json:"term_number" validate:"required,min=1"`
	StartDate    time.Time `json:"start_date" validate:"required"`
	EndDate      time.Time `json:"end_date" validate:"required"`
	DaysOfWeek   string    `json:"days_of_week" validate:"required"`
	StartTime    string    `json:"start_time" validate:"required"`
	EndTime      string    `json:"end_time" validate:"required"`
	Capacity     int       `json:"capacity" validate:"required,min=1"`
	InstructorID string    `json:"instructor_id" validate:"required"`
}

// UpdateTermRequest carries the optional fields of a partial term update.
type UpdateTermRequest struct {
	TermNumber   *int       `json:"term_number" validate:"omitempty,min=1"`
	StartDate    *time.Time `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	DaysOfWeek   *string    `json:"days_of_week"`
	StartTime    *string    `json:"start_time"`
	EndTime      *string    `json:"end_time"`
	Capacity     *int       `json:"capacity" validate:"omitempty,min=1"`
	InstructorID *string    `json:"instructor_id"`
}

// TermService manages course term scheduling. Term status is largely a
// projection of the date window; only cancellation is stored.
type TermService struct {
	repo        termRepository
	courses     courseReader
	users       applicantReader
	enrollments termEnrollmentStore
	cache       cacheStore
	audits      auditWriter
	validator   *validator.Validate
	logger      *zap.Logger
	seatsTTL    time.Duration
	now         func() time.Time
}

// NewTermService constructs TermService.
func NewTermService(repo termRepository, courses courseReader, users applicantReader, enrollments termEnrollmentStore, cache cacheStore, audits auditWriter, validate *validator.Validate, logger *zap.Logger, seatsTTL time.Duration) *TermService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if seatsTTL <= 0 {
		seatsTTL = 30 * time.Second
	}
	return &TermService{
		repo:        repo,
		courses:     courses,
		users:       users,
		enrollments: enrollments,
		cache:       cache,
		audits:      audits,
		validator:   validate,
		logger:      logger,
		seatsTTL:    seatsTTL,
		now:         time.Now,
	}
}

// List returns terms with their effective statuses computed for now.
func (s *TermService) List(ctx context.Context, filter models.TermFilter) ([]models.TermDetail, *models.Pagination, error) {
	terms, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list terms")
	}
	now := s.now().UTC()
	for i := range terms {
		terms[i].EffectiveStatus = terms[i].CourseTerm.EffectiveStatus(now)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return terms, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a single term detail.
func (s *TermService) Get(ctx context.Context, id string) (*models.TermDetail, error) {
	detail, err := s.repo.FindDetailByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}
	detail.EffectiveStatus = detail.CourseTerm.EffectiveStatus(s.now().UTC())
	return detail, nil
}

// Create schedules a new term under a course. Archived and closed
// courses do not accept new terms.
func (s *TermService) Create(ctx context.Context, req CreateTermRequest) (*models.CourseTerm, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}
	// Single-day terms are legal: only a reversed range is rejected.
	if req.EndDate.Before(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}

	course, err := s.courses.FindByID(ctx, req.CourseID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Status == models.CourseStatusClosed || course.Status == models.CourseStatusArchived {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("cannot add terms to a %s course", course.Status)), map[string]interface{}{
			"course_id": course.ID,
			"status":    course.Status,
		})
	}
	if req.Capacity > course.MaxCapacity {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "term capacity exceeds course maximum"), map[string]interface{}{
			"capacity":     req.Capacity,
			"max_capacity": course.MaxCapacity,
		})
	}

	instructor, err := s.users.FindByID(ctx, req.InstructorID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
	}
	if instructor.Role != models.RoleInstructor {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, "assigned user is not an instructor")
	}

	exists, err := s.repo.ExistsByCourseAndNumber(ctx, req.CourseID, req.TermNumber, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term number")
	}
	if exists {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("term %d already exists for this course", req.TermNumber)), map[string]interface{}{
			"course_id":   req.CourseID,
			"term_number": req.TermNumber,
		})
	}

	term := &models.CourseTerm{
		CourseID:     req.CourseID,
		TermNumber:   req.TermNumber,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		DaysOfWeek:   req.DaysOfWeek,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Status:       models.TermStatusScheduled,
		Capacity:     req.Capacity,
		InstructorID: req.InstructorID,
	}
	if err := s.repo.Create(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create term")
	}
	return term, nil
}

// Update modifies a term that has not started yet.
func (s *TermService) Update(ctx context.Context, id string, req UpdateTermRequest) (*models.CourseTerm, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid term payload")
	}

	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	now := s.now().UTC()
	switch term.EffectiveStatus(now) {
	case models.TermStatusCancelled:
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "cancelled terms are read-only")
	case models.TermStatusInProgress, models.TermStatusCompleted:
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidState, "cannot modify a term after it has started"), map[string]interface{}{
			"term_id":    id,
			"start_date": term.StartDate,
		})
	}

	if req.TermNumber != nil && *req.TermNumber != term.TermNumber {
		exists, err := s.repo.ExistsByCourseAndNumber(ctx, term.CourseID, *req.TermNumber, term.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check term number")
		}
		if exists {
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("term %d already exists for this course", *req.TermNumber)), map[string]interface{}{
				"course_id":   term.CourseID,
				"term_number": *req.TermNumber,
			})
		}
		term.TermNumber = *req.TermNumber
	}
	if req.StartDate != nil {
		term.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		term.EndDate = *req.EndDate
	}
	if term.EndDate.Before(term.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}
	if req.DaysOfWeek != nil {
		term.DaysOfWeek = *req.DaysOfWeek
	}
	if req.StartTime != nil {
		term.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		term.EndTime = *req.EndTime
	}
	if req.Capacity != nil {
		taken, err := s.enrollments.CountActiveByTerm(ctx, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
		}
		if *req.Capacity < taken {
			return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "capacity cannot drop below the current active enrollment count"), map[string]interface{}{
				"term_id":  id,
				"capacity": *req.Capacity,
				"taken":    taken,
			})
		}
		term.Capacity = *req.Capacity
	}
	if req.InstructorID != nil {
		instructor, err := s.users.FindByID(ctx, *req.InstructorID)
		if err != nil {
			if err == sql.ErrNoRows {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "instructor not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load instructor")
		}
		if instructor.Role != models.RoleInstructor {
			return nil, appErrors.Clone(appErrors.ErrBadRequest, "assigned user is not an instructor")
		}
		term.InstructorID = *req.InstructorID
	}

	if err := s.repo.Update(ctx, term); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update term")
	}

	s.invalidateSeats(ctx, id)
	return term, nil
}

// Cancel writes the sticky CANCELLED state and releases every active
// seat. Completed terms are history and cannot be cancelled.
func (s *TermService) Cancel(ctx context.Context, id, actorID string) (*models.CourseTerm, error) {
	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	now := s.now().UTC()
	switch term.EffectiveStatus(now) {
	case models.TermStatusCancelled:
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrAlreadyCancelled, "term already cancelled"), map[string]interface{}{
			"term_id": id,
		})
	case models.TermStatusCompleted:
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidState, "completed terms cannot be cancelled"), map[string]interface{}{
			"term_id":  id,
			"end_date": term.EndDate,
		})
	}

	ok, err := s.repo.MarkCancelled(ctx, id, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel term")
	}
	if !ok {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrAlreadyCancelled, "term already cancelled"), map[string]interface{}{
			"term_id": id,
		})
	}

	released, err := s.enrollments.CancelActiveByTerm(ctx, id, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to release term enrollments")
	}
	s.logger.Info("term cancelled",
		zap.String("term_id", id),
		zap.Int("released_enrollments", released))

	if s.audits != nil {
		if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actorID,
			Action:     models.AuditActionTermCancel,
			Resource:   "course_term",
			ResourceID: &id,
		}); err != nil {
			s.logger.Warn("failed to record term cancel audit log", zap.Error(err))
		}
	}

	s.invalidateSeats(ctx, id)
	term.Status = models.TermStatusCancelled
	term.UpdatedAt = now
	return term, nil
}

// Seats reports the occupancy of a term, served from cache when fresh.
func (s *TermService) Seats(ctx context.Context, id string) (*models.SeatAvailability, error) {
	key := seatsCacheKey(id)
	if s.cache != nil {
		var cached models.SeatAvailability
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("seats cache read failed", zap.String("term_id", id), zap.Error(err))
		}
	}

	term, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	taken, err := s.enrollments.CountActiveByTerm(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}

	seats := &models.SeatAvailability{
		TermID:    id,
		Capacity:  term.Capacity,
		Taken:     taken,
		Available: term.Capacity - taken,
	}
	if seats.Available < 0 {
		seats.Available = 0
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, seats, s.seatsTTL); err != nil {
			s.logger.Warn("seats cache write failed", zap.String("term_id", id), zap.Error(err))
		}
	}
	return seats, nil
}

func (s *TermService) invalidateSeats(ctx context.Context, termID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, seatsCacheKey(termID)); err != nil {
		s.logger.Warn("seats cache invalidation failed", zap.String("term_id", termID), zap.Error(err))
	}
}

func seatsCacheKey(termID string) string {
	return "term:seats:" + termID
}
