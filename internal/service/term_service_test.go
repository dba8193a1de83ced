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

type fakeTermRepo struct {
	mu        sync.Mutex
	terms     map[string]*models.CourseTerm
	cancelled []string
}

func newFakeTermRepo(terms ...*models.CourseTerm) *fakeTermRepo {
	repo := &fakeTermRepo{terms: make(map[string]*models.CourseTerm)}
	for _, term := range terms {
		repo.terms[term.ID] = term
	}
	return repo
}

func (f *fakeTermRepo) List(context.Context, models.TermFilter) ([]models.TermDetail, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TermDetail
	for _, term := range f.terms {
		out = append(out, models.TermDetail{CourseTerm: *term})
	}
	return out, len(out), nil
}

func (f *fakeTermRepo) FindByID(_ context.Context, id string) (*models.CourseTerm, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	term, ok := f.terms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *term
	return &copied, nil
}

func (f *fakeTermRepo) FindDetailByID(_ context.Context, id string) (*models.TermDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	term, ok := f.terms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.TermDetail{CourseTerm: *term}, nil
}

func (f *fakeTermRepo) ExistsByCourseAndNumber(_ context.Context, courseID string, termNumber int, excludeID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, term := range f.terms {
		if term.CourseID == courseID && term.TermNumber == termNumber && term.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeTermRepo) Create(_ context.Context, term *models.CourseTerm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if term.ID == "" {
		term.ID = "term-new"
	}
	stored := *term
	f.terms[stored.ID] = &stored
	return nil
}

func (f *fakeTermRepo) Update(_ context.Context, term *models.CourseTerm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *term
	f.terms[stored.ID] = &stored
	return nil
}

func (f *fakeTermRepo) MarkCancelled(_ context.Context, id string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	term, ok := f.terms[id]
	if !ok || term.Status == models.TermStatusCancelled {
		return false, nil
	}
	term.Status = models.TermStatusCancelled
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

type fakeTermEnrollments struct {
	mu       sync.Mutex
	active   map[string]int
	cascaded map[string]int
}

func newFakeTermEnrollments() *fakeTermEnrollments {
	return &fakeTermEnrollments{active: make(map[string]int), cascaded: make(map[string]int)}
}

func (f *fakeTermEnrollments) CountActiveByTerm(_ context.Context, termID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[termID], nil
}

func (f *fakeTermEnrollments) CancelActiveByTerm(_ context.Context, termID string, _ time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	released := f.active[termID]
	f.cascaded[termID] = released
	f.active[termID] = 0
	return released, nil
}

var termTestNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func termFixture() (*fakeTermRepo, *stubCourseReader, *stubUserReader, *fakeTermEnrollments) {
	repo := newFakeTermRepo(&models.CourseTerm{
		ID:           "term-1",
		CourseID:     "course-1",
		TermNumber:   1,
		StartDate:    termTestNow.AddDate(0, 1, 0),
		EndDate:      termTestNow.AddDate(0, 4, 0),
		DaysOfWeek:   "MON,WED",
		StartTime:    "09:00",
		EndTime:      "11:00",
		Status:       models.TermStatusScheduled,
		Capacity:     20,
		InstructorID: "dana",
	})
	courses := &stubCourseReader{courses: map[string]*models.Course{
		"course-1": {ID: "course-1", Title: "Algebra", Status: models.CourseStatusOpen, MaxCapacity: 30},
	}}
	users := &stubUserReader{users: map[string]*models.User{
		"dana":  {ID: "dana", Role: models.RoleInstructor, Active: true},
		"alice": {ID: "alice", Role: models.RoleStudent, Active: true},
	}}
	return repo, courses, users, newFakeTermEnrollments()
}

func newTestTermService(repo *fakeTermRepo, courses *stubCourseReader, users *stubUserReader, enrollments *fakeTermEnrollments, audits *capturingAuditWriter) *TermService {
	var aw auditWriter
	if audits != nil {
		aw = audits
	}
	svc := NewTermService(repo, courses, users, enrollments, nil, aw, nil, nil, time.Second)
	svc.now = func() time.Time { return termTestNow }
	return svc
}

func TestTermEffectiveStatusDerivation(t *testing.T) {
	now := termTestNow
	cases := []struct {
		name   string
		term   models.CourseTerm
		expect models.TermStatus
	}{
		{
			name:   "before start",
			term:   models.CourseTerm{StartDate: now.AddDate(0, 0, 1), EndDate: now.AddDate(0, 2, 0)},
			expect: models.TermStatusScheduled,
		},
		{
			name:   "inside window",
			term:   models.CourseTerm{StartDate: now.AddDate(0, 0, -1), EndDate: now.AddDate(0, 0, 1)},
			expect: models.TermStatusInProgress,
		},
		{
			name:   "start boundary is in progress",
			term:   models.CourseTerm{StartDate: now, EndDate: now.AddDate(0, 2, 0)},
			expect: models.TermStatusInProgress,
		},
		{
			name:   "single-day term on its day",
			term:   models.CourseTerm{StartDate: now, EndDate: now},
			expect: models.TermStatusInProgress,
		},
		{
			name:   "after end",
			term:   models.CourseTerm{StartDate: now.AddDate(0, -2, 0), EndDate: now.AddDate(0, 0, -1)},
			expect: models.TermStatusCompleted,
		},
		{
			name:   "cancelled is sticky even inside window",
			term:   models.CourseTerm{StartDate: now.AddDate(0, 0, -1), EndDate: now.AddDate(0, 0, 1), Status: models.TermStatusCancelled},
			expect: models.TermStatusCancelled,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, tc.term.EffectiveStatus(now))
		})
	}
}

func TestTermGetReportsEffectiveStatus(t *testing.T) {
	repo, courses, users, enrollments := termFixture()
	svc := newTestTermService(repo, courses, users, enrollments, nil)

	detail, err := svc.Get(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, models.TermStatusScheduled, detail.EffectiveStatus)
}

func TestTermCreateValidations(t *testing.T) {
	repo, courses, users, enrollments := termFixture()
	svc := newTestTermService(repo, courses, users, enrollments, nil)

	base := CreateTermRequest{
		CourseID:     "course-1",
		TermNumber:   2,
		StartDate:    termTestNow.AddDate(0, 2, 0),
		EndDate:      termTestNow.AddDate(0, 5, 0),
		DaysOfWeek:   "TUE,THU",
		StartTime:    "13:00",
		EndTime:      "15:00",
		Capacity:     25,
		InstructorID: "dana",
	}

	t.Run("creates a scheduled term", func(t *testing.T) {
		term, err := svc.Create(context.Background(), base)
		require.NoError(t, err)
		assert.Equal(t, models.TermStatusScheduled, term.Status)
	})

	t.Run("duplicate term number conflicts", func(t *testing.T) {
		req := base
		req.TermNumber = 1
		_, err := svc.Create(context.Background(), req)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	})

	t.Run("end before start rejected", func(t *testing.T) {
		req := base
		req.TermNumber = 3
		req.EndDate = req.StartDate.AddDate(0, 0, -1)
		_, err := svc.Create(context.Background(), req)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	})

	t.Run("single-day term accepted", func(t *testing.T) {
		req := base
		req.TermNumber = 7
		req.EndDate = req.StartDate
		term, err := svc.Create(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, term.EndDate.Equal(term.StartDate))
	})

	t.Run("capacity above course maximum rejected", func(t *testing.T) {
		req := base
		req.TermNumber = 3
		req.Capacity = 31
		_, err := svc.Create(context.Background(), req)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	})

	t.Run("non-instructor rejected", func(t *testing.T) {
		req := base
		req.TermNumber = 3
		req.InstructorID = "alice"
		_, err := svc.Create(context.Background(), req)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrBadRequest))
	})

	t.Run("archived course rejects new terms", func(t *testing.T) {
		courses.courses["course-1"].Status = models.CourseStatusArchived
		defer func() { courses.courses["course-1"].Status = models.CourseStatusOpen }()

		req := base
		req.TermNumber = 3
		_, err := svc.Create(context.Background(), req)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	})
}

func TestTermUpdateRefusedAfterStart(t *testing.T) {
	repo, courses, users, enrollments := termFixture()
	repo.terms["term-1"].StartDate = termTestNow.AddDate(0, -1, 0)
	svc := newTestTermService(repo, courses, users, enrollments, nil)

	capacity := 25
	_, err := svc.Update(context.Background(), "term-1", UpdateTermRequest{Capacity: &capacity})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
}

func TestTermUpdateCapacityFloor(t *testing.T) {
	repo, courses, users, enrollments := termFixture()
	enrollments.active["term-1"] = 12
	svc := newTestTermService(repo, courses, users, enrollments, nil)

	capacity := 10
	_, err := svc.Update(context.Background(), "term-1", UpdateTermRequest{Capacity: &capacity})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	appErr := appErrors.FromError(err)
	assert.Equal(t, 12, appErr.Details["taken"])

	capacity = 12
	updated, err := svc.Update(context.Background(), "term-1", UpdateTermRequest{Capacity: &capacity})
	require.NoError(t, err)
	assert.Equal(t, 12, updated.Capacity)
}

func TestTermCancelCascadesToEnrollments(t *testing.T) {
	repo, courses, users, enrollments := termFixture()
	enrollments.active["term-1"] = 7
	audits := &capturingAuditWriter{}
	svc := newTestTermService(repo, courses, users, enrollments, audits)

	term, err := svc.Cancel(context.Background(), "term-1", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.TermStatusCancelled, term.Status)
	assert.Equal(t, 7, enrollments.cascaded["term-1"])
	assert.Equal(t, 0, enrollments.active["term-1"])

	require.Len(t, audits.logs, 1)
	assert.Equal(t, models.AuditActionTermCancel, audits.logs[0].Action)
}

func TestTermCancelRefusals(t *testing.T) {
	t.Run("already cancelled", func(t *testing.T) {
		repo, courses, users, enrollments := termFixture()
		repo.terms["term-1"].Status = models.TermStatusCancelled
		svc := newTestTermService(repo, courses, users, enrollments, nil)

		_, err := svc.Cancel(context.Background(), "term-1", "admin-1")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrAlreadyCancelled))
	})

	t.Run("completed term", func(t *testing.T) {
		repo, courses, users, enrollments := termFixture()
		repo.terms["term-1"].StartDate = termTestNow.AddDate(0, -4, 0)
		repo.terms["term-1"].EndDate = termTestNow.AddDate(0, -1, 0)
		svc := newTestTermService(repo, courses, users, enrollments, nil)

		_, err := svc.Cancel(context.Background(), "term-1", "admin-1")
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))
	})

	t.Run("in-progress term can still be cancelled", func(t *testing.T) {
		repo, courses, users, enrollments := termFixture()
		repo.terms["term-1"].StartDate = termTestNow.AddDate(0, -1, 0)
		svc := newTestTermService(repo, courses, users, enrollments, nil)

		term, err := svc.Cancel(context.Background(), "term-1", "admin-1")
		require.NoError(t, err)
		assert.Equal(t, models.TermStatusCancelled, term.Status)
	})
}

func TestTermSeats(t *testing.T) {
	repo, courses, users, enrollments := termFixture()
	enrollments.active["term-1"] = 14
	svc := newTestTermService(repo, courses, users, enrollments, nil)

	seats, err := svc.Seats(context.Background(), "term-1")
	require.NoError(t, err)
	assert.Equal(t, 20, seats.Capacity)
	assert.Equal(t, 14, seats.Taken)
	assert.Equal(t, 6, seats.Available)
}
