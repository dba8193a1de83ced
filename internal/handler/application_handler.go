package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lentera-edu/lms-api/internal/middleware"
	"github.com/lentera-edu/lms-api/internal/models"
	"github.com/lentera-edu/lms-api/internal/service"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
	"github.com/lentera-edu/lms-api/pkg/response"
)

type applicationService interface {
	List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.CourseApplication, error)
	Submit(ctx context.Context, req service.SubmitApplicationRequest) (*models.CourseApplication, error)
	Approve(ctx context.Context, applicationID, reviewerID string) (*models.Course, error)
	Reject(ctx context.Context, applicationID, reviewerID string, req service.RejectApplicationRequest) (*models.CourseApplication, error)
}

// ApplicationHandler exposes the course application workflow.
type ApplicationHandler struct {
	service applicationService
}

// NewApplicationHandler constructs ApplicationHandler.
func NewApplicationHandler(service applicationService) *ApplicationHandler {
	return &ApplicationHandler{service: service}
}

// List godoc
// @Summary List course applications
// @Tags applications
// @Security BearerAuth
// @Produce json
// @Param status query string false "PENDING, APPROVED or REJECTED"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope{data=[]models.ApplicationDetail}
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	filter := models.ApplicationFilter{
		Status:      models.ApplicationStatus(c.Query("status")),
		ApplicantID: c.Query("applicant_id"),
		Page:        queryInt(c, "page", 1),
		PageSize:    queryInt(c, "page_size", 20),
		SortBy:      c.Query("sort_by"),
		SortOrder:   c.Query("sort_order"),
	}

	applications, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, applications, pagination)
}

// Get godoc
// @Summary Get a course application
// @Tags applications
// @Security BearerAuth
// @Produce json
// @Param id path string true "Application ID"
// @Success 200 {object} response.Envelope{data=models.CourseApplication}
// @Failure 404 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	application, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, application, nil)
}

// Submit godoc
// @Summary Submit a course application
// @Tags applications
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.SubmitApplicationRequest true "Application"
// @Success 201 {object} response.Envelope{data=models.CourseApplication}
// @Failure 400 {object} response.Envelope
// @Router /applications [post]
func (h *ApplicationHandler) Submit(c *gin.Context) {
	var req service.SubmitApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrBadRequest.Code, appErrors.ErrBadRequest.Status, "invalid request body"))
		return
	}
	req.ApplicantID = middleware.CallerID(c)

	application, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, application)
}

// Approve godoc
// @Summary Approve a pending application
// @Tags applications
// @Security BearerAuth
// @Produce json
// @Param id path string true "Application ID"
// @Success 201 {object} response.Envelope{data=models.Course}
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/approve [post]
func (h *ApplicationHandler) Approve(c *gin.Context) {
	course, err := h.service.Approve(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// Reject godoc
// @Summary Reject a pending application
// @Tags applications
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Application ID"
// @Param payload body service.RejectApplicationRequest true "Rejection reason"
// @Success 200 {object} response.Envelope{data=models.CourseApplication}
// @Failure 409 {object} response.Envelope
// @Router /applications/{id}/reject [post]
func (h *ApplicationHandler) Reject(c *gin.Context) {
	var req service.RejectApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrBadRequest.Code, appErrors.ErrBadRequest.Status, "invalid request body"))
		return
	}

	application, err := h.service.Reject(c.Request.Context(), c.Param("id"), middleware.CallerID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, application, nil)
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
