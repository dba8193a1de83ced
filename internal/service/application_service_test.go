package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lentera-edu/lms-api/internal/models"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
)

type fakeApplicationRepo struct {
	mu           sync.Mutex
	applications map[string]*models.CourseApplication
	courses      []*models.Course
}

func newFakeApplicationRepo(applications ...*models.CourseApplication) *fakeApplicationRepo {
	repo := &fakeApplicationRepo{applications: make(map[string]*models.CourseApplication)}
	for _, application := range applications {
		repo.applications[application.ID] = application
	}
	return repo
}

func (f *fakeApplicationRepo) List(context.Context, models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	return nil, 0, nil
}

func (f *fakeApplicationRepo) FindByID(_ context.Context, id string) (*models.CourseApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	application, ok := f.applications[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *application
	return &copied, nil
}

func (f *fakeApplicationRepo) Create(_ context.Context, application *models.CourseApplication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if application.ID == "" {
		application.ID = "app-new"
	}
	stored := *application
	f.applications[stored.ID] = &stored
	return nil
}

func (f *fakeApplicationRepo) Approve(_ context.Context, applicationID string, course *models.Course, reviewedBy string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	application, ok := f.applications[applicationID]
	if !ok || application.Status != models.ApplicationStatusPending {
		return false, nil
	}
	application.Status = models.ApplicationStatusApproved
	application.ReviewedBy = &reviewedBy
	application.ReviewedAt = &now
	application.CourseID = &course.ID
	f.courses = append(f.courses, course)
	return true, nil
}

func (f *fakeApplicationRepo) Reject(_ context.Context, applicationID, reason, reviewedBy string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	application, ok := f.applications[applicationID]
	if !ok || application.Status != models.ApplicationStatusPending {
		return false, nil
	}
	application.Status = models.ApplicationStatusRejected
	application.RejectReason = &reason
	application.ReviewedBy = &reviewedBy
	application.ReviewedAt = &now
	return true, nil
}

func pendingApplication(id string) *models.CourseApplication {
	return &models.CourseApplication{
		ID:          id,
		Title:       "Number Theory",
		Description: "Primes and friends",
		Capacity:    25,
		ApplicantID: "dana",
		Status:      models.ApplicationStatusPending,
	}
}

func newTestApplicationService(repo *fakeApplicationRepo, audits *capturingAuditWriter) *ApplicationService {
	var aw auditWriter
	if audits != nil {
		aw = audits
	}
	users := &stubUserReader{users: map[string]*models.User{
		"dana":  {ID: "dana", Role: models.RoleInstructor, Active: true},
		"alice": {ID: "alice", Role: models.RoleStudent, Active: true},
	}}
	svc := NewApplicationService(repo, users, aw, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc
}

func TestSubmitApplication(t *testing.T) {
	repo := newFakeApplicationRepo()
	svc := newTestApplicationService(repo, nil)

	t.Run("creates pending application", func(t *testing.T) {
		application, err := svc.Submit(context.Background(), SubmitApplicationRequest{
			Title:       "Number Theory",
			Description: "Primes and friends",
			Capacity:    25,
			ApplicantID: "dana",
		})
		require.NoError(t, err)
		assert.Equal(t, models.ApplicationStatusPending, application.Status)
	})

	t.Run("students cannot apply", func(t *testing.T) {
		_, err := svc.Submit(context.Background(), SubmitApplicationRequest{
			Title:       "Number Theory",
			Description: "Primes and friends",
			Capacity:    25,
			ApplicantID: "alice",
		})
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	})

	t.Run("title at the 200 character bound is accepted", func(t *testing.T) {
		_, err := svc.Submit(context.Background(), SubmitApplicationRequest{
			Title:       strings.Repeat("a", 200),
			Description: "ok",
			Capacity:    10,
			ApplicantID: "dana",
		})
		require.NoError(t, err)
	})

	t.Run("title over the bound is rejected", func(t *testing.T) {
		_, err := svc.Submit(context.Background(), SubmitApplicationRequest{
			Title:       strings.Repeat("a", 201),
			Description: "ok",
			Capacity:    10,
			ApplicantID: "dana",
		})
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	})

	t.Run("description over the bound is rejected", func(t *testing.T) {
		_, err := svc.Submit(context.Background(), SubmitApplicationRequest{
			Title:       "ok",
			Description: strings.Repeat("d", 2001),
			Capacity:    10,
			ApplicantID: "dana",
		})
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	})
}

func TestApproveApplication(t *testing.T) {
	repo := newFakeApplicationRepo(pendingApplication("app-1"))
	audits := &capturingAuditWriter{}
	svc := newTestApplicationService(repo, audits)

	course, err := svc.Approve(context.Background(), "app-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.CourseStatusDraft, course.Status)
	assert.Equal(t, "Number Theory", course.Title)
	assert.Equal(t, 25, course.MaxCapacity)

	stored, err := svc.Get(context.Background(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusApproved, stored.Status)
	require.NotNil(t, stored.CourseID)
	assert.Equal(t, course.ID, *stored.CourseID)

	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionApplicationApprove, audits.logs[0].Action)
}

func TestApproveIsSingleUse(t *testing.T) {
	repo := newFakeApplicationRepo(pendingApplication("app-1"))
	svc := newTestApplicationService(repo, nil)

	_, err := svc.Approve(context.Background(), "app-1", "admin-1")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), "app-1", "admin-2")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAlreadyApproved))

	appErr := appErrors.FromError(err)
	assert.Equal(t, "app-1", appErr.Details["application_id"])
	require.Len(t, repo.courses, 1)
}

func TestRejectRequiresReason(t *testing.T) {
	repo := newFakeApplicationRepo(pendingApplication("app-1"))
	svc := newTestApplicationService(repo, nil)

	_, err := svc.Reject(context.Background(), "app-1", "admin-1", RejectApplicationRequest{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.Reject(context.Background(), "app-1", "admin-1", RejectApplicationRequest{Reason: strings.Repeat("r", 501)})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestRejectIsTerminal(t *testing.T) {
	repo := newFakeApplicationRepo(pendingApplication("app-1"))
	svc := newTestApplicationService(repo, nil)

	rejected, err := svc.Reject(context.Background(), "app-1", "admin-1", RejectApplicationRequest{Reason: "duplicate of an existing course"})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectReason)

	// Neither review works on a rejected application.
	_, err = svc.Approve(context.Background(), "app-1", "admin-2")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	_, err = svc.Reject(context.Background(), "app-1", "admin-2", RejectApplicationRequest{Reason: "again"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	assert.Empty(t, repo.courses)
}
