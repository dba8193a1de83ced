package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lentera-edu/lms-api/internal/models"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
)

type fakeCourseRepo struct {
	mu          sync.Mutex
	courses     map[string]*models.Course
	activeTerms map[string]int
	deleted     []string
	afterCount  func()
}

func newFakeCourseRepo(courses ...*models.Course) *fakeCourseRepo {
	repo := &fakeCourseRepo{
		courses:     make(map[string]*models.Course),
		activeTerms: make(map[string]int),
	}
	for _, course := range courses {
		repo.courses[course.ID] = course
	}
	return repo
}

func (f *fakeCourseRepo) List(context.Context, models.CourseFilter) ([]models.Course, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Course
	for _, course := range f.courses {
		out = append(out, *course)
	}
	return out, len(out), nil
}

func (f *fakeCourseRepo) FindByID(_ context.Context, id string) (*models.Course, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *course
	return &copied, nil
}

func (f *fakeCourseRepo) Update(_ context.Context, course *models.Course) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *course
	f.courses[course.ID] = &stored
	return nil
}

func (f *fakeCourseRepo) UpdateStatus(_ context.Context, id string, from, to models.CourseStatus, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	course, ok := f.courses[id]
	if !ok || course.Status != from {
		return false, nil
	}
	course.Status = to
	course.UpdatedAt = now
	return true, nil
}

func (f *fakeCourseRepo) CountActiveTerms(_ context.Context, courseID string, _ time.Time) (int, error) {
	f.mu.Lock()
	active := f.activeTerms[courseID]
	f.mu.Unlock()
	if f.afterCount != nil {
		f.afterCount()
	}
	return active, nil
}

func (f *fakeCourseRepo) Delete(_ context.Context, id string, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.courses[id]; !ok {
		return 0, sql.ErrNoRows
	}
	// Guard re-checked under the same lock as the delete, mirroring the
	// course row lock in the SQL implementation.
	if active := f.activeTerms[id]; active > 0 {
		return active, nil
	}
	delete(f.courses, id)
	f.deleted = append(f.deleted, id)
	return 0, nil
}

type capturingAuditWriter struct {
	mu   sync.Mutex
	logs []models.AuditLog
}

func (c *capturingAuditWriter) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, *log)
	return nil
}

func newTestCourseService(repo *fakeCourseRepo, audits *capturingAuditWriter) *CourseService {
	var aw auditWriter
	if audits != nil {
		aw = audits
	}
	svc := NewCourseService(repo, nil, aw, nil, nil, time.Minute)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return svc
}

func draftCourse(id string) *models.Course {
	return &models.Course{ID: id, Title: "Algebra", Description: "Intro", MaxCapacity: 30, Status: models.CourseStatusDraft}
}

func TestChangeStatusFollowsLifecycle(t *testing.T) {
	cases := []struct {
		name    string
		from    models.CourseStatus
		to      models.CourseStatus
		allowed bool
	}{
		{"draft to open", models.CourseStatusDraft, models.CourseStatusOpen, true},
		{"draft to archived", models.CourseStatusDraft, models.CourseStatusArchived, true},
		{"open to closed", models.CourseStatusOpen, models.CourseStatusClosed, true},
		{"closed to archived", models.CourseStatusClosed, models.CourseStatusArchived, true},
		{"draft to closed", models.CourseStatusDraft, models.CourseStatusClosed, false},
		{"open to draft", models.CourseStatusOpen, models.CourseStatusDraft, false},
		{"closed to open", models.CourseStatusClosed, models.CourseStatusOpen, false},
		{"archived to open", models.CourseStatusArchived, models.CourseStatusOpen, false},
		{"archived to draft", models.CourseStatusArchived, models.CourseStatusDraft, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			course := draftCourse("course-1")
			course.Status = tc.from
			svc := newTestCourseService(newFakeCourseRepo(course), nil)

			updated, err := svc.ChangeStatus(context.Background(), "course-1", tc.to)
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, tc.to, updated.Status)
				return
			}
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))

			appErr := appErrors.FromError(err)
			assert.Equal(t, tc.from, appErr.Details["from"])
			assert.Equal(t, tc.to, appErr.Details["to"])
		})
	}
}

func TestChangeStatusSameStatusConflicts(t *testing.T) {
	course := draftCourse("course-1")
	course.Status = models.CourseStatusOpen
	svc := newTestCourseService(newFakeCourseRepo(course), nil)

	_, err := svc.ChangeStatus(context.Background(), "course-1", models.CourseStatusOpen)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestChangeStatusUnknownTarget(t *testing.T) {
	svc := newTestCourseService(newFakeCourseRepo(draftCourse("course-1")), nil)

	_, err := svc.ChangeStatus(context.Background(), "course-1", models.CourseStatus("PAUSED"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestChangeStatusNotFound(t *testing.T) {
	svc := newTestCourseService(newFakeCourseRepo(), nil)

	_, err := svc.ChangeStatus(context.Background(), "missing", models.CourseStatusOpen)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestUpdateRejectsArchivedCourse(t *testing.T) {
	course := draftCourse("course-1")
	course.Status = models.CourseStatusArchived
	svc := newTestCourseService(newFakeCourseRepo(course), nil)

	title := "New title"
	_, err := svc.Update(context.Background(), "course-1", models.UpdateCourseInput{Title: &title})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestUpdateAppliesPartialFields(t *testing.T) {
	repo := newFakeCourseRepo(draftCourse("course-1"))
	svc := newTestCourseService(repo, nil)

	title := "Linear Algebra"
	capacity := 40
	updated, err := svc.Update(context.Background(), "course-1", models.UpdateCourseInput{Title: &title, MaxCapacity: &capacity})
	require.NoError(t, err)
	assert.Equal(t, "Linear Algebra", updated.Title)
	assert.Equal(t, 40, updated.MaxCapacity)
	assert.Equal(t, "Intro", updated.Description)
}

func TestUpdateTrimsTextFields(t *testing.T) {
	repo := newFakeCourseRepo(draftCourse("course-1"))
	svc := newTestCourseService(repo, nil)

	title := "  Algebra II  "
	description := "\tFields and vector spaces.\n"
	updated, err := svc.Update(context.Background(), "course-1", models.UpdateCourseInput{Title: &title, Description: &description})
	require.NoError(t, err)
	assert.Equal(t, "Algebra II", updated.Title)
	assert.Equal(t, "Fields and vector spaces.", updated.Description)
}

func TestDeleteBlockedByActiveTerms(t *testing.T) {
	repo := newFakeCourseRepo(draftCourse("course-1"))
	repo.activeTerms["course-1"] = 2
	svc := newTestCourseService(repo, nil)

	err := svc.Delete(context.Background(), "course-1", "admin-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrHasActiveTerms))

	appErr := appErrors.FromError(err)
	assert.Equal(t, 2, appErr.Details["active_terms"])
	assert.Empty(t, repo.deleted)
}

func TestDeleteRefusesTermScheduledAfterPrecheck(t *testing.T) {
	repo := newFakeCourseRepo(draftCourse("course-1"))
	svc := newTestCourseService(repo, nil)

	// A term lands between the fast count and the guarded delete.
	repo.afterCount = func() {
		repo.mu.Lock()
		repo.activeTerms["course-1"] = 1
		repo.mu.Unlock()
	}

	err := svc.Delete(context.Background(), "course-1", "admin-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrHasActiveTerms))
	assert.Empty(t, repo.deleted)

	_, findErr := repo.FindByID(context.Background(), "course-1")
	assert.NoError(t, findErr)
}

func TestDeleteRemovesCourseAndAudits(t *testing.T) {
	repo := newFakeCourseRepo(draftCourse("course-1"))
	audits := &capturingAuditWriter{}
	svc := newTestCourseService(repo, audits)

	err := svc.Delete(context.Background(), "course-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"course-1"}, repo.deleted)

	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionCourseDelete, audits.logs[0].Action)
	require.NotNil(t, audits.logs[0].UserID)
	assert.Equal(t, "admin-1", *audits.logs[0].UserID)
}
