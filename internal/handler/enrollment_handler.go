package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lentera-edu/lms-api/internal/middleware"
	"github.com/lentera-edu/lms-api/internal/models"
	"github.com/lentera-edu/lms-api/internal/service"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
	"github.com/lentera-edu/lms-api/pkg/response"
)

type enrollmentService interface {
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.EnrollmentDetail, error)
	Enroll(ctx context.Context, req service.EnrollRequest) (*models.Enrollment, error)
	Cancel(ctx context.Context, id, actorID string, actorRole models.UserRole) (*models.Enrollment, error)
}

// EnrollmentHandler exposes seat claim and release endpoints.
type EnrollmentHandler struct {
	service enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(service enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{service: service}
}

// List godoc
// @Summary List enrollments
// @Tags enrollments
// @Security BearerAuth
// @Produce json
// @Param term_id query string false "Term filter"
// @Param status query string false "ACTIVE or CANCELLED"
// @Success 200 {object} response.Envelope{data=[]models.EnrollmentDetail}
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	filter := models.EnrollmentFilter{
		StudentID: c.Query("student_id"),
		TermID:    c.Query("term_id"),
		Status:    models.EnrollmentStatus(c.Query("status")),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "page_size", 20),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	// Students only see their own enrollments.
	if middleware.CallerRole(c) == models.RoleStudent {
		filter.StudentID = middleware.CallerID(c)
	}

	enrollments, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

// Get godoc
// @Summary Get an enrollment
// @Tags enrollments
// @Security BearerAuth
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope{data=models.EnrollmentDetail}
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if middleware.CallerRole(c) == models.RoleStudent && enrollment.StudentID != middleware.CallerID(c) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, ""))
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Enroll godoc
// @Summary Claim a seat in a term
// @Tags enrollments
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Term to enroll in"
// @Success 201 {object} response.Envelope{data=models.Enrollment}
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrBadRequest.Code, appErrors.ErrBadRequest.Status, "invalid request body"))
		return
	}
	req.StudentID = middleware.CallerID(c)

	enrollment, err := h.service.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Cancel godoc
// @Summary Release a seat before the term starts
// @Tags enrollments
// @Security BearerAuth
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope{data=models.Enrollment}
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/cancel [post]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	enrollment, err := h.service.Cancel(c.Request.Context(), c.Param("id"), middleware.CallerID(c), middleware.CallerRole(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}
