package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lentera-edu/lms-api/internal/models"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
)

type courseRepository interface {
	List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error)
	FindByID(ctx context.Context, id string) (*models.Course, error)
	Update(ctx context.Context, course *models.Course) error
	UpdateStatus(ctx context.Context, id string, from, to models.CourseStatus, now time.Time) (bool, error)
	CountActiveTerms(ctx context.Context, courseID string, now time.Time) (int, error)
	Delete(ctx context.Context, id string, now time.Time) (int, error)
}

type cacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CourseService manages the course catalog and its status state machine.
type CourseService struct {
	repo      courseRepository
	cache     cacheStore
	audits    auditWriter
	validator *validator.Validate
	logger    *zap.Logger
	cacheTTL  time.Duration
	now       func() time.Time
}

// NewCourseService constructs CourseService.
func NewCourseService(repo courseRepository, cache cacheStore, audits auditWriter, validate *validator.Validate, logger *zap.Logger, cacheTTL time.Duration) *CourseService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &CourseService{repo: repo, cache: cache, audits: audits, validator: validate, logger: logger, cacheTTL: cacheTTL, now: time.Now}
}

// List returns catalog courses with pagination metadata.
func (s *CourseService) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, *models.Pagination, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown course status %q", filter.Status))
	}

	courses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return courses, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get loads a single course, serving from cache when possible.
func (s *CourseService) Get(ctx context.Context, id string) (*models.Course, error) {
	key := courseCacheKey(id)
	if s.cache != nil {
		var cached models.Course
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("course cache read failed", zap.String("course_id", id), zap.Error(err))
		}
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, course, s.cacheTTL); err != nil {
			s.logger.Warn("course cache write failed", zap.String("course_id", id), zap.Error(err))
		}
	}
	return course, nil
}

// Update applies a partial metadata update. Status is never changed here;
// ChangeStatus owns the state machine.
func (s *CourseService) Update(ctx context.Context, id string, input models.UpdateCourseInput) (*models.Course, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.Status == models.CourseStatusArchived {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidState, "archived courses are read-only"), map[string]interface{}{
			"course_id": id,
			"status":    course.Status,
		})
	}

	if input.Title != nil {
		course.Title = strings.TrimSpace(*input.Title)
	}
	if input.Description != nil {
		course.Description = strings.TrimSpace(*input.Description)
	}
	if input.MaxCapacity != nil {
		course.MaxCapacity = *input.MaxCapacity
	}

	if err := s.repo.Update(ctx, course); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}

	s.invalidate(ctx, id)
	return course, nil
}

// ChangeStatus moves the course along the fixed lifecycle table. Requesting
// the current status is a conflict, not a no-op, so concurrent operators
// learn their transition already happened.
func (s *CourseService) ChangeStatus(ctx context.Context, id string, target models.CourseStatus) (*models.Course, error) {
	if !target.IsValid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown course status %q", target))
	}

	course, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	if course.Status == target {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("course already %s", target)), map[string]interface{}{
			"course_id": id,
			"status":    course.Status,
		})
	}
	if !course.Status.CanTransitionTo(target) {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move course from %s to %s", course.Status, target)), map[string]interface{}{
			"course_id": id,
			"from":      course.Status,
			"to":        target,
		})
	}

	now := s.now().UTC()
	ok, err := s.repo.UpdateStatus(ctx, id, course.Status, target, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to change course status")
	}
	if !ok {
		// Lost the race to another transition.
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrConflict, "course status changed concurrently"), map[string]interface{}{
			"course_id": id,
		})
	}

	course.Status = target
	course.UpdatedAt = now
	s.invalidate(ctx, id)
	return course, nil
}

// Delete removes a course that has no scheduled or in-progress terms.
// The fast count gives callers a precise conflict early; the delete
// itself re-checks the guard under the course row lock so a term
// scheduled in between cannot be swept away.
func (s *CourseService) Delete(ctx context.Context, id, actorID string) error {
	_, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}

	now := s.now().UTC()
	active, err := s.repo.CountActiveTerms(ctx, id, now)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count active terms")
	}
	if active == 0 {
		active, err = s.repo.Delete(ctx, id, now)
		if err != nil {
			if err == sql.ErrNoRows {
				return appErrors.Clone(appErrors.ErrNotFound, "course not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
		}
	}
	if active > 0 {
		return appErrors.WithDetails(appErrors.Clone(appErrors.ErrHasActiveTerms, fmt.Sprintf("course has %d active terms", active)), map[string]interface{}{
			"course_id":    id,
			"active_terms": active,
		})
	}

	if s.audits != nil {
		if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
			UserID:     &actorID,
			Action:     models.AuditActionCourseDelete,
			Resource:   "course",
			ResourceID: &id,
		}); err != nil {
			s.logger.Warn("failed to record course delete audit log", zap.Error(err))
		}
	}

	s.invalidate(ctx, id)
	return nil
}

func (s *CourseService) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, courseCacheKey(id)); err != nil {
		s.logger.Warn("course cache invalidation failed", zap.String("course_id", id), zap.Error(err))
	}
}

func courseCacheKey(id string) string {
	return "course:" + id
}
