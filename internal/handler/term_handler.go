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

type termService interface {
	List(ctx context.Context, filter models.TermFilter) ([]models.TermDetail, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.TermDetail, error)
	Create(ctx context.Context, req service.CreateTermRequest) (*models.CourseTerm, error)
	Update(ctx context.Context, id string, req service.UpdateTermRequest) (*models.CourseTerm, error)
	Cancel(ctx context.Context, id, actorID string) (*models.CourseTerm, error)
	Seats(ctx context.Context, id string) (*models.SeatAvailability, error)
}

// TermHandler exposes term scheduling endpoints.
type TermHandler struct {
	service termService
}

// NewTermHandler constructs TermHandler.
func NewTermHandler(service termService) *TermHandler {
	return &TermHandler{service: service}
}

// List godoc
// @Summary List course terms
// @Tags terms
// @Produce json
// @Param course_id query string false "Course filter"
// @Param instructor_id query string false "Instructor filter"
// @Success 200 {object} response.Envelope{data=[]models.TermDetail}
// @Router /terms [get]
func (h *TermHandler) List(c *gin.Context) {
	filter := models.TermFilter{
		CourseID:     c.Query("course_id"),
		InstructorID: c.Query("instructor_id"),
		Status:       models.TermStatus(c.Query("status")),
		Page:         queryInt(c, "page", 1),
		PageSize:     queryInt(c, "page_size", 20),
		SortBy:       c.Query("sort_by"),
		SortOrder:    c.Query("sort_order"),
	}

	terms, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, terms, pagination)
}

// Get godoc
// @Summary Get a term with its derived status
// @Tags terms
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope{data=models.TermDetail}
// @Failure 404 {object} response.Envelope
// @Router /terms/{id} [get]
func (h *TermHandler) Get(c *gin.Context) {
	term, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Create godoc
// @Summary Schedule a new term
// @Tags terms
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param payload body service.CreateTermRequest true "Term"
// @Success 201 {object} response.Envelope{data=models.CourseTerm}
// @Failure 409 {object} response.Envelope
// @Router /terms [post]
func (h *TermHandler) Create(c *gin.Context) {
	var req service.CreateTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrBadRequest.Code, appErrors.ErrBadRequest.Status, "invalid request body"))
		return
	}

	term, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, term)
}

// Update godoc
// @Summary Update a term that has not started
// @Tags terms
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Term ID"
// @Param payload body service.UpdateTermRequest true "Fields to update"
// @Success 200 {object} response.Envelope{data=models.CourseTerm}
// @Failure 409 {object} response.Envelope
// @Router /terms/{id} [patch]
func (h *TermHandler) Update(c *gin.Context) {
	var req service.UpdateTermRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrBadRequest.Code, appErrors.ErrBadRequest.Status, "invalid request body"))
		return
	}

	term, err := h.service.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Cancel godoc
// @Summary Cancel a term and release its seats
// @Tags terms
// @Security BearerAuth
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope{data=models.CourseTerm}
// @Failure 409 {object} response.Envelope
// @Router /terms/{id}/cancel [post]
func (h *TermHandler) Cancel(c *gin.Context) {
	term, err := h.service.Cancel(c.Request.Context(), c.Param("id"), middleware.CallerID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, term, nil)
}

// Seats godoc
// @Summary Report seat availability for a term
// @Tags terms
// @Produce json
// @Param id path string true "Term ID"
// @Success 200 {object} response.Envelope{data=models.SeatAvailability}
// @Failure 404 {object} response.Envelope
// @Router /terms/{id}/seats [get]
func (h *TermHandler) Seats(c *gin.Context) {
	seats, err := h.service.Seats(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, seats, nil)
}
