package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/lentera-edu/lms-api/internal/middleware"
	"github.com/lentera-edu/lms-api/internal/models"
	"github.com/lentera-edu/lms-api/internal/service"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
)

type enrollmentServiceMock struct {
	listFilter models.EnrollmentFilter
	getResp    *models.EnrollmentDetail
	enrollReq  service.EnrollRequest
	enrollResp *models.Enrollment
	enrollErr  error
	cancelErr  error
}

func (m *enrollmentServiceMock) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	m.listFilter = filter
	return []models.EnrollmentDetail{}, &models.Pagination{Page: 1, PageSize: 20}, nil
}

func (m *enrollmentServiceMock) Get(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	if m.getResp == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
	}
	return m.getResp, nil
}

func (m *enrollmentServiceMock) Enroll(ctx context.Context, req service.EnrollRequest) (*models.Enrollment, error) {
	m.enrollReq = req
	if m.enrollErr != nil {
		return nil, m.enrollErr
	}
	return m.enrollResp, nil
}

func (m *enrollmentServiceMock) Cancel(ctx context.Context, id, actorID string, actorRole models.UserRole) (*models.Enrollment, error) {
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	return &models.Enrollment{ID: id, Status: models.EnrollmentStatusCancelled}, nil
}

func newEnrollmentTestContext(t *testing.T, method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(method, target, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func TestEnrollmentHandlerEnrollUsesCaller(t *testing.T) {
	mock := &enrollmentServiceMock{enrollResp: &models.Enrollment{ID: "enr-1", TermID: "term-1", StudentID: "stu-1", Status: models.EnrollmentStatusActive}}
	handler := NewEnrollmentHandler(mock)

	body, _ := json.Marshal(map[string]string{"term_id": "term-1", "student_id": "someone-else"})
	c, w := newEnrollmentTestContext(t, http.MethodPost, "/enrollments", body)
	c.Set(middleware.ContextUserID, "stu-1")
	c.Set(middleware.ContextUserRole, models.RoleStudent)

	handler.Enroll(c)
	require.Equal(t, http.StatusCreated, w.Code)
	// The seat is always claimed for the authenticated caller.
	require.Equal(t, "stu-1", mock.enrollReq.StudentID)
	require.Contains(t, w.Body.String(), `"enr-1"`)
}

func TestEnrollmentHandlerEnrollConflictStatus(t *testing.T) {
	mock := &enrollmentServiceMock{enrollErr: appErrors.Clone(appErrors.ErrCapacityExceeded, "")}
	handler := NewEnrollmentHandler(mock)

	body, _ := json.Marshal(map[string]string{"term_id": "term-1"})
	c, w := newEnrollmentTestContext(t, http.MethodPost, "/enrollments", body)
	c.Set(middleware.ContextUserID, "stu-1")
	c.Set(middleware.ContextUserRole, models.RoleStudent)

	handler.Enroll(c)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), appErrors.ErrCapacityExceeded.Code)
}

func TestEnrollmentHandlerEnrollInvalidBody(t *testing.T) {
	handler := NewEnrollmentHandler(&enrollmentServiceMock{})

	c, w := newEnrollmentTestContext(t, http.MethodPost, "/enrollments", []byte(`not json`))
	c.Set(middleware.ContextUserID, "stu-1")
	c.Set(middleware.ContextUserRole, models.RoleStudent)

	handler.Enroll(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollmentHandlerListScopesStudents(t *testing.T) {
	mock := &enrollmentServiceMock{}
	handler := NewEnrollmentHandler(mock)

	c, w := newEnrollmentTestContext(t, http.MethodGet, "/enrollments?student_id=other", nil)
	c.Set(middleware.ContextUserID, "stu-1")
	c.Set(middleware.ContextUserRole, models.RoleStudent)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "stu-1", mock.listFilter.StudentID)
}

func TestEnrollmentHandlerGetBlocksOtherStudents(t *testing.T) {
	mock := &enrollmentServiceMock{getResp: &models.EnrollmentDetail{Enrollment: models.Enrollment{ID: "enr-1", StudentID: "stu-2"}}}
	handler := NewEnrollmentHandler(mock)

	c, w := newEnrollmentTestContext(t, http.MethodGet, "/enrollments/enr-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	c.Set(middleware.ContextUserID, "stu-1")
	c.Set(middleware.ContextUserRole, models.RoleStudent)

	handler.Get(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestEnrollmentHandlerCancelStartedTerm(t *testing.T) {
	mock := &enrollmentServiceMock{cancelErr: appErrors.Clone(appErrors.ErrCannotCancelStarted, "")}
	handler := NewEnrollmentHandler(mock)

	c, w := newEnrollmentTestContext(t, http.MethodPost, "/enrollments/enr-1/cancel", nil)
	c.Params = gin.Params{{Key: "id", Value: "enr-1"}}
	c.Set(middleware.ContextUserID, "stu-1")
	c.Set(middleware.ContextUserRole, models.RoleStudent)

	handler.Cancel(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), appErrors.ErrCannotCancelStarted.Code)
}
