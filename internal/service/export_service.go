package service

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lentera-edu/lms-api/internal/models"
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
	"github.com/lentera-edu/lms-api/pkg/export"
	"github.com/lentera-edu/lms-api/pkg/jobs"
)

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkFinished(ctx context.Context, id, filePath, downloadURL string, finishedAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string, finishedAt time.Time) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type rosterReader interface {
	ListActiveDetailByTerm(ctx context.Context, termID string) ([]models.EnrollmentDetail, error)
}

type artifactStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
}

type urlSigner interface {
	Generate(jobID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error)
}

type exportRecorder interface {
	ObserveExport(status string)
}

// ExportService accepts roster export requests and resolves signed
// downloads. The actual rendering happens asynchronously in
// ExportWorker.
type ExportService struct {
	repo    exportJobStore
	terms   termReader
	queue   jobDispatcher
	storage artifactStorage
	signer  urlSigner
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService constructs ExportService.
func NewExportService(repo exportJobStore, terms termReader, queue jobDispatcher, storage artifactStorage, signer urlSigner, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{repo: repo, terms: terms, queue: queue, storage: storage, signer: signer, logger: logger, now: time.Now}
}

// CreateJob persists a QUEUED job and hands it to the worker pool. When
// enqueueing fails the job is marked FAILED immediately so it never
// stays QUEUED forever.
func (s *ExportService) CreateJob(ctx context.Context, termID string, format models.ExportFormat, requestedBy string) (*models.ExportJob, error) {
	if format != models.ExportFormatCSV && format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	if _, err := s.terms.FindByID(ctx, termID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "term not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load term")
	}

	job := &models.ExportJob{
		TermID:      termID,
		Format:      format,
		Status:      models.ExportStatusQueued,
		RequestedBy: requestedBy,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "roster_export", Payload: job.ID}); err != nil {
		reason := "failed to enqueue export job"
		if markErr := s.repo.MarkFailed(ctx, job.ID, reason, s.now().UTC()); markErr != nil {
			s.logger.Error("failed to mark unqueued export job", zap.String("job_id", job.ID), zap.Error(markErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, reason)
	}
	return job, nil
}

// Get returns the current job status.
func (s *ExportService) Get(ctx context.Context, id string) (*models.ExportJob, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	return job, nil
}

// ResolveDownload verifies a signed token and opens the referenced file.
func (s *ExportService) ResolveDownload(ctx context.Context, token string) (*os.File, *models.ExportJob, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}

	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	if job.Status != models.ExportStatusFinished || job.FilePath == nil || *job.FilePath != relPath {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "export artifact not available")
	}

	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export artifact")
	}
	return file, job, nil
}

// ExportWorker renders roster artifacts for queued jobs.
type ExportWorker struct {
	repo        exportJobStore
	terms       termReader
	enrollments rosterReader
	csv         *export.CSVExporter
	pdf         *export.PDFExporter
	storage     artifactStorage
	signer      urlSigner
	recorder    exportRecorder
	logger      *zap.Logger
	now         func() time.Time
}

// NewExportWorker constructs ExportWorker.
func NewExportWorker(repo exportJobStore, terms termReader, enrollments rosterReader, storage artifactStorage, signer urlSigner, recorder exportRecorder, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportWorker{
		repo:        repo,
		terms:       terms,
		enrollments: enrollments,
		csv:         export.NewCSVExporter(),
		pdf:         export.NewPDFExporter(),
		storage:     storage,
		signer:      signer,
		recorder:    recorder,
		logger:      logger,
		now:         time.Now,
	}
}

// Handle processes one queued export job. Returning an error lets the
// queue retry; failures past retry are recorded by the final attempt.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	jobID, ok := job.Payload.(string)
	if !ok || jobID == "" {
		w.logger.Error("export job carries no identifier", zap.String("queue_job", job.ID))
		return nil
	}

	record, err := w.repo.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", jobID, err)
	}
	if record.Status == models.ExportStatusFinished || record.Status == models.ExportStatusFailed {
		return nil
	}

	if err := w.repo.MarkProcessing(ctx, jobID); err != nil {
		return fmt.Errorf("mark export processing: %w", err)
	}

	if err := w.render(ctx, record); err != nil {
		now := w.now().UTC()
		if markErr := w.repo.MarkFailed(ctx, jobID, err.Error(), now); markErr != nil {
			w.logger.Error("failed to mark export failed", zap.String("job_id", jobID), zap.Error(markErr))
		}
		if w.recorder != nil {
			w.recorder.ObserveExport(string(models.ExportStatusFailed))
		}
		return err
	}

	if w.recorder != nil {
		w.recorder.ObserveExport(string(models.ExportStatusFinished))
	}
	return nil
}

func (w *ExportWorker) render(ctx context.Context, record *models.ExportJob) error {
	term, err := w.terms.FindByID(ctx, record.TermID)
	if err != nil {
		return fmt.Errorf("load term %s: %w", record.TermID, err)
	}

	roster, err := w.enrollments.ListActiveDetailByTerm(ctx, record.TermID)
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	dataset := export.Dataset{
		Headers: []string{"Student", "Email", "Course", "Term", "Enrolled At"},
	}
	for _, e := range roster {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student":     e.StudentName,
			"Email":       e.StudentEmail,
			"Course":      e.CourseTitle,
			"Term":        strconv.Itoa(e.TermNumber),
			"Enrolled At": e.CreatedAt.Format(time.RFC3339),
		})
	}

	var payload []byte
	switch record.Format {
	case models.ExportFormatCSV:
		payload, err = w.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = w.pdf.Render(dataset, fmt.Sprintf("Roster - Term %d", term.TermNumber))
	default:
		err = fmt.Errorf("unsupported export format %q", record.Format)
	}
	if err != nil {
		return fmt.Errorf("render roster: %w", err)
	}

	now := w.now().UTC()
	filename := fmt.Sprintf("rosters/%s/%s.%s", record.TermID, record.ID, record.Format)
	relPath, err := w.storage.Save(filename, payload)
	if err != nil {
		return fmt.Errorf("store roster artifact: %w", err)
	}

	token, _, err := w.signer.Generate(record.ID, relPath)
	if err != nil {
		return fmt.Errorf("sign download url: %w", err)
	}
	downloadURL := "/api/v1/exports/download/" + token

	if err := w.repo.MarkFinished(ctx, record.ID, relPath, downloadURL, now); err != nil {
		return fmt.Errorf("mark export finished: %w", err)
	}

	w.logger.Info("roster export finished",
		zap.String("job_id", record.ID),
		zap.String("term_id", record.TermID),
		zap.String("format", string(record.Format)),
		zap.Int("rows", len(roster)))
	return nil
}
