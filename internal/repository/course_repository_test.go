package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/lentera-edu/lms-api/internal/models"
)

func newCourseRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestCourseRepositoryFindByID(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)

	rows := sqlmock.NewRows([]string{"id", "title", "description", "max_capacity", "status", "created_at", "updated_at"}).
		AddRow("course-1", "Intro to Go", "", 40, models.CourseStatusOpen, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, description, max_capacity, status, created_at, updated_at FROM courses WHERE id = $1")).
		WithArgs("course-1").
		WillReturnRows(rows)

	course, err := repo.FindByID(context.Background(), "course-1")
	require.NoError(t, err)
	require.Equal(t, models.CourseStatusOpen, course.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryUpdateStatusGuard(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2")).
		WithArgs("course-1", models.CourseStatusDraft, models.CourseStatusOpen, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateStatus(context.Background(), "course-1", models.CourseStatusDraft, models.CourseStatusOpen, now)
	require.NoError(t, err)
	require.True(t, ok)

	// Guard misses when the row moved on concurrently.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE courses SET status = $3")).
		WithArgs("course-1", models.CourseStatusDraft, models.CourseStatusOpen, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = repo.UpdateStatus(context.Background(), "course-1", models.CourseStatusDraft, models.CourseStatusOpen, now)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryCountActiveTerms(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_terms WHERE course_id = $1 AND status <> $2 AND end_date >= $3")).
		WithArgs("course-1", models.TermStatusCancelled, now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountActiveTerms(context.Background(), "course-1", now)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryDelete(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM courses WHERE id = $1 FOR UPDATE")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("course-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_terms WHERE course_id = $1 AND status <> $2 AND end_date >= $3")).
		WithArgs("course-1", models.TermStatusCancelled, now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM course_terms WHERE course_id = $1")).
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM courses WHERE id = $1")).
		WithArgs("course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	active, err := repo.Delete(context.Background(), "course-1", now)
	require.NoError(t, err)
	require.Zero(t, active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCourseRepositoryDeleteRefusedUnderLock(t *testing.T) {
	db, mock, cleanup := newCourseRepoMock(t)
	defer cleanup()
	repo := NewCourseRepository(db)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM courses WHERE id = $1 FOR UPDATE")).
		WithArgs("course-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("course-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM course_terms WHERE course_id = $1 AND status <> $2 AND end_date >= $3")).
		WithArgs("course-1", models.TermStatusCancelled, now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	active, err := repo.Delete(context.Background(), "course-1", now)
	require.NoError(t, err)
	require.Equal(t, 1, active)
	require.NoError(t, mock.ExpectationsWereMet())
}
