package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lentera-edu/lms-api/internal/models"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
	"github.com/lentera-edu/lms-api/pkg/jobs"
	"github.com/lentera-edu/lms-api/pkg/storage"
)

type fakeExportRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.ExportJob
}

func newFakeExportRepo() *fakeExportRepo {
	return &fakeExportRepo{jobs: make(map[string]*models.ExportJob)}
}

func (f *fakeExportRepo) Create(_ context.Context, job *models.ExportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job.ID == "" {
		job.ID = "export-1"
	}
	stored := *job
	f.jobs[stored.ID] = &stored
	return nil
}

func (f *fakeExportRepo) FindByID(_ context.Context, id string) (*models.ExportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (f *fakeExportRepo) MarkProcessing(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = models.ExportStatusProcessing
	}
	return nil
}

func (f *fakeExportRepo) MarkFinished(_ context.Context, id, filePath, downloadURL string, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = models.ExportStatusFinished
		job.FilePath = &filePath
		job.DownloadURL = &downloadURL
		job.FinishedAt = &finishedAt
	}
	return nil
}

func (f *fakeExportRepo) MarkFailed(_ context.Context, id, reason string, finishedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.jobs[id]; ok {
		job.Status = models.ExportStatusFailed
		job.ErrorMessage = &reason
		job.FinishedAt = &finishedAt
	}
	return nil
}

type captureDispatcher struct {
	jobs []jobs.Job
	err  error
}

func (c *captureDispatcher) Enqueue(job jobs.Job) error {
	if c.err != nil {
		return c.err
	}
	c.jobs = append(c.jobs, job)
	return nil
}

type fakeRoster struct {
	rows []models.EnrollmentDetail
}

func (f *fakeRoster) ListActiveDetailByTerm(context.Context, string) ([]models.EnrollmentDetail, error) {
	return f.rows, nil
}

func exportTermReader() *stubTermReader {
	return &stubTermReader{terms: map[string]*models.CourseTerm{
		"term-1": {
			ID:         "term-1",
			CourseID:   "course-1",
			TermNumber: 2,
			StartDate:  time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			EndDate:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
			Status:     models.TermStatusScheduled,
			Capacity:   20,
		},
	}}
}

func exportWorkerFixture(t *testing.T) (*fakeExportRepo, *ExportWorker, *storage.LocalStorage, *storage.SignedURLSigner) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)

	repo := newFakeExportRepo()
	roster := &fakeRoster{rows: []models.EnrollmentDetail{
		{
			Enrollment:   models.Enrollment{ID: "e1", TermID: "term-1", StudentID: "alice", Status: models.EnrollmentStatusActive, CreatedAt: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)},
			StudentName:  "Alice Tan",
			StudentEmail: "alice@example.com",
			CourseTitle:  "Algebra",
			TermNumber:   2,
		},
		{
			Enrollment:   models.Enrollment{ID: "e2", TermID: "term-1", StudentID: "bob", Status: models.EnrollmentStatusActive, CreatedAt: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)},
			StudentName:  "Bob Lim",
			StudentEmail: "bob@example.com",
			CourseTitle:  "Algebra",
			TermNumber:   2,
		},
	}}
	worker := NewExportWorker(repo, exportTermReader(), roster, store, signer, nil, nil)
	return repo, worker, store, signer
}

func TestCreateJobQueuesExport(t *testing.T) {
	repo := newFakeExportRepo()
	dispatcher := &captureDispatcher{}
	svc := NewExportService(repo, exportTermReader(), dispatcher, nil, nil, nil)

	job, err := svc.CreateJob(context.Background(), "term-1", models.ExportFormatCSV, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, job.Status)
	require.Len(t, dispatcher.jobs, 1)
	assert.Equal(t, job.ID, dispatcher.jobs[0].Payload)
}

func TestCreateJobValidations(t *testing.T) {
	repo := newFakeExportRepo()
	svc := NewExportService(repo, exportTermReader(), &captureDispatcher{}, nil, nil, nil)

	_, err := svc.CreateJob(context.Background(), "term-1", models.ExportFormat("xlsx"), "admin-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))

	_, err = svc.CreateJob(context.Background(), "missing", models.ExportFormatCSV, "admin-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestCreateJobEnqueueFailureMarksFailed(t *testing.T) {
	repo := newFakeExportRepo()
	dispatcher := &captureDispatcher{err: errors.New("queue stopped")}
	svc := NewExportService(repo, exportTermReader(), dispatcher, nil, nil, nil)

	_, err := svc.CreateJob(context.Background(), "term-1", models.ExportFormatCSV, "admin-1")
	require.Error(t, err)

	stored, findErr := repo.FindByID(context.Background(), "export-1")
	require.NoError(t, findErr)
	assert.Equal(t, models.ExportStatusFailed, stored.Status)
}

func TestWorkerRendersCSVRoster(t *testing.T) {
	repo, worker, store, signer := exportWorkerFixture(t)
	require.NoError(t, repo.Create(context.Background(), &models.ExportJob{
		ID:     "export-1",
		TermID: "term-1",
		Format: models.ExportFormatCSV,
		Status: models.ExportStatusQueued,
	}))

	err := worker.Handle(context.Background(), jobs.Job{ID: "export-1", Type: "roster_export", Payload: "export-1"})
	require.NoError(t, err)

	job, err := repo.FindByID(context.Background(), "export-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, job.Status)
	require.NotNil(t, job.FilePath)
	require.NotNil(t, job.DownloadURL)

	file, err := store.Open(*job.FilePath)
	require.NoError(t, err)
	defer file.Close()

	content, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("Student,Email,Course,Term,Enrolled At")))
	assert.Contains(t, string(content), "Alice Tan")
	assert.Contains(t, string(content), "bob@example.com")

	// The download URL embeds a token the signer accepts.
	token := strings.TrimPrefix(*job.DownloadURL, "/api/v1/exports/download/")
	jobID, relPath, _, err := signer.Parse(token, false)
	require.NoError(t, err)
	assert.Equal(t, "export-1", jobID)
	assert.Equal(t, *job.FilePath, relPath)
}

func TestWorkerRendersPDFRoster(t *testing.T) {
	repo, worker, store, _ := exportWorkerFixture(t)
	require.NoError(t, repo.Create(context.Background(), &models.ExportJob{
		ID:     "export-2",
		TermID: "term-1",
		Format: models.ExportFormatPDF,
		Status: models.ExportStatusQueued,
	}))

	err := worker.Handle(context.Background(), jobs.Job{ID: "export-2", Type: "roster_export", Payload: "export-2"})
	require.NoError(t, err)

	job, err := repo.FindByID(context.Background(), "export-2")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, job.Status)

	file, err := store.Open(*job.FilePath)
	require.NoError(t, err)
	defer file.Close()

	header := make([]byte, 5)
	_, err = io.ReadFull(file, header)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-", string(header))
}

func TestWorkerSkipsTerminalJobs(t *testing.T) {
	repo, worker, _, _ := exportWorkerFixture(t)
	path := "rosters/term-1/export-3.csv"
	require.NoError(t, repo.Create(context.Background(), &models.ExportJob{
		ID:       "export-3",
		TermID:   "term-1",
		Format:   models.ExportFormatCSV,
		Status:   models.ExportStatusFinished,
		FilePath: &path,
	}))

	err := worker.Handle(context.Background(), jobs.Job{ID: "export-3", Payload: "export-3"})
	require.NoError(t, err)

	job, err := repo.FindByID(context.Background(), "export-3")
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, job.Status)
	assert.Equal(t, path, *job.FilePath)
}

func TestResolveDownload(t *testing.T) {
	repo, worker, store, signer := exportWorkerFixture(t)
	require.NoError(t, repo.Create(context.Background(), &models.ExportJob{
		ID:     "export-4",
		TermID: "term-1",
		Format: models.ExportFormatCSV,
		Status: models.ExportStatusQueued,
	}))
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: "export-4", Payload: "export-4"}))

	job, err := repo.FindByID(context.Background(), "export-4")
	require.NoError(t, err)
	token := strings.TrimPrefix(*job.DownloadURL, "/api/v1/exports/download/")

	svc := NewExportService(repo, exportTermReader(), &captureDispatcher{}, store, signer, nil)

	file, resolved, err := svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, "export-4", resolved.ID)

	_, _, err = svc.ResolveDownload(context.Background(), token+"tampered")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
