package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lentera-edu/lms-api/internal/models"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
)

type applicationRepository interface {
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.CourseApplication, error)
	Create(ctx context.Context, application *models.CourseApplication) error
	Approve(ctx context.Context, applicationID string, course *models.Course, reviewedBy string, now time.Time) (bool, error)
	Reject(ctx context.Context, applicationID, reason, reviewedBy string, now time.Time) (bool, error)
}

type applicantReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// SubmitApplicationRequest describes an instructor's course proposal.
type SubmitApplicationRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=2000"`
	Capacity    int    `json:"capacity" validate:"required,min=1"`
	ApplicantID string `json:"-"`
}

// RejectApplicationRequest carries the mandatory rejection reason.
type RejectApplicationRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// ApplicationService runs the course application approval workflow.
// PENDING is the only reviewable state; both review outcomes are
// terminal and single-use.
type ApplicationService struct {
	repo       applicationRepository
	applicants applicantReader
	audits     auditWriter
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewApplicationService constructs ApplicationService.
func NewApplicationService(repo applicationRepository, applicants applicantReader, audits auditWriter, validate *validator.Validate, logger *zap.Logger) *ApplicationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{repo: repo, applicants: applicants, audits: audits, validator: validate, logger: logger, now: time.Now}
}

// List returns applications with pagination metadata.
func (s *ApplicationService) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, *models.Pagination, error) {
	applications, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return applications, pagination, nil
}

// Get loads a single application.
func (s *ApplicationService) Get(ctx context.Context, id string) (*models.CourseApplication, error) {
	application, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return application, nil
}

// Submit creates a PENDING application for the given instructor.
func (s *ApplicationService) Submit(ctx context.Context, req SubmitApplicationRequest) (*models.CourseApplication, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}

	applicant, err := s.applicants.FindByID(ctx, req.ApplicantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "applicant not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load applicant")
	}
	if applicant.Role != models.RoleInstructor && applicant.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only instructors can submit course applications")
	}

	application := &models.CourseApplication{
		Title:       req.Title,
		Description: req.Description,
		Capacity:    req.Capacity,
		ApplicantID: req.ApplicantID,
		Status:      models.ApplicationStatusPending,
	}
	if err := s.repo.Create(ctx, application); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}
	return application, nil
}

// Approve reviews a pending application and materializes its course. The
// created course starts in DRAFT so the catalog can stage terms before
// opening enrollment.
func (s *ApplicationService) Approve(ctx context.Context, applicationID, reviewerID string) (*models.Course, error) {
	application, err := s.repo.FindByID(ctx, applicationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if !application.IsPending() {
		return nil, reviewedError(application)
	}

	now := s.now().UTC()
	course := &models.Course{
		ID:          uuid.NewString(),
		Title:       application.Title,
		Description: application.Description,
		MaxCapacity: application.Capacity,
		Status:      models.CourseStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	ok, err := s.repo.Approve(ctx, applicationID, course, reviewerID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to approve application")
	}
	if !ok {
		// Another reviewer decided first.
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidState, "application no longer pending"), map[string]interface{}{
			"application_id": applicationID,
		})
	}

	s.recordReview(ctx, reviewerID, applicationID, models.AuditActionApplicationApprove)
	return course, nil
}

// Reject reviews a pending application with a mandatory reason.
func (s *ApplicationService) Reject(ctx context.Context, applicationID, reviewerID string, req RejectApplicationRequest) (*models.CourseApplication, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}

	application, err := s.repo.FindByID(ctx, applicationID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	if !application.IsPending() {
		return nil, reviewedError(application)
	}

	ok, err := s.repo.Reject(ctx, applicationID, req.Reason, reviewerID, s.now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reject application")
	}
	if !ok {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidState, "application no longer pending"), map[string]interface{}{
			"application_id": applicationID,
		})
	}

	s.recordReview(ctx, reviewerID, applicationID, models.AuditActionApplicationReject)

	updated, err := s.repo.FindByID(ctx, applicationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	return updated, nil
}

// reviewedError maps a non-pending application to the error a second
// reviewer sees. A prior approval is a conflict; any other terminal
// state refuses the operation outright.
func reviewedError(application *models.CourseApplication) *appErrors.Error {
	base := appErrors.ErrInvalidState
	if application.Status == models.ApplicationStatusApproved {
		base = appErrors.ErrAlreadyApproved
	}
	return appErrors.WithDetails(appErrors.Clone(base, fmt.Sprintf("application already %s", strings.ToLower(string(application.Status)))), map[string]interface{}{
		"application_id": application.ID,
		"status":         application.Status,
	})
}

func (s *ApplicationService) recordReview(ctx context.Context, reviewerID, applicationID, action string) {
	if s.audits == nil {
		return
	}
	if err := s.audits.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &reviewerID,
		Action:     action,
		Resource:   "course_application",
		ResourceID: &applicationID,
	}); err != nil {
		s.logger.Warn("failed to record review audit log", zap.Error(err))
	}
}
