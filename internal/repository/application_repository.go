package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/lentera-edu/lms-api/internal/models"
)

// ApplicationRepository handles persistence of course applications.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs the repository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// List returns applications filtered by the provided criteria.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter) ([]models.ApplicationDetail, int, error) {
	base := `FROM course_applications a
LEFT JOIN users u ON u.id = a.applicant_id`
	var conditions []string
	var args []interface{}

	if filter.ApplicantID != "" {
		conditions = append(conditions, fmt.Sprintf("a.applicant_id = $%d", len(args)+1))
		args = append(args, filter.ApplicantID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":     "a.created_at",
		"title":          "a.title",
		"applicant_name": "u.full_name",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "a.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT a.id, a.title, a.description, a.capacity, a.applicant_id, a.status, a.reject_reason,
        a.course_id, a.reviewed_by, a.reviewed_at, a.created_at, a.updated_at,
        u.full_name AS applicant_name, u.email AS applicant_email
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var applications []models.ApplicationDetail
	if err := r.db.SelectContext(ctx, &applications, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return applications, total, nil
}

// FindByID returns an application by its ID.
func (r *ApplicationRepository) FindByID(ctx context.Context, id string) (*models.CourseApplication, error) {
	const query = `SELECT id, title, description, capacity, applicant_id, status, reject_reason, course_id, reviewed_by, reviewed_at, created_at, updated_at FROM course_applications WHERE id = $1`
	var application models.CourseApplication
	if err := r.db.GetContext(ctx, &application, query, id); err != nil {
		return nil, err
	}
	return &application, nil
}

// Create persists a new pending application.
func (r *ApplicationRepository) Create(ctx context.Context, application *models.CourseApplication) error {
	if application.ID == "" {
		application.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if application.CreatedAt.IsZero() {
		application.CreatedAt = now
	}
	application.UpdatedAt = now
	if application.Status == "" {
		application.Status = models.ApplicationStatusPending
	}
	const query = `INSERT INTO course_applications (id, title, description, capacity, applicant_id, status, reject_reason, course_id, reviewed_by, reviewed_at, created_at, updated_at)
        VALUES (:id, :title, :description, :capacity, :applicant_id, :status, :reject_reason, :course_id, :reviewed_by, :reviewed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, application); err != nil {
		return fmt.Errorf("create application: %w", err)
	}
	return nil
}

// Approve flips a pending application to APPROVED and inserts the
// resulting course in the same transaction. The status update is guarded
// by the current PENDING state; the returned flag is false when another
// reviewer won the race.
func (r *ApplicationRepository) Approve(ctx context.Context, applicationID string, course *models.Course, reviewedBy string, now time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin approve tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertCourse = `INSERT INTO courses (id, title, description, max_capacity, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $6)`
	if _, err = tx.ExecContext(ctx, insertCourse, course.ID, course.Title, course.Description, course.MaxCapacity, course.Status, now); err != nil {
		return false, fmt.Errorf("insert course: %w", err)
	}

	const updateApplication = `UPDATE course_applications
        SET status = $2, course_id = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $5
        WHERE id = $1 AND status = $6`
	var res sql.Result
	res, err = tx.ExecContext(ctx, updateApplication, applicationID, models.ApplicationStatusApproved, course.ID, reviewedBy, now, models.ApplicationStatusPending)
	if err != nil {
		return false, fmt.Errorf("approve application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve application rows: %w", err)
	}
	if affected == 0 {
		err = tx.Rollback()
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit approve tx: %w", err)
	}
	return true, nil
}

// Reject flips a pending application to REJECTED storing the reason.
// Returns false when the application was no longer pending.
func (r *ApplicationRepository) Reject(ctx context.Context, applicationID, reason, reviewedBy string, now time.Time) (bool, error) {
	const query = `UPDATE course_applications
        SET status = $2, reject_reason = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $5
        WHERE id = $1 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, applicationID, models.ApplicationStatusRejected, reason, reviewedBy, now, models.ApplicationStatusPending)
	if err != nil {
		return false, fmt.Errorf("reject application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reject application rows: %w", err)
	}
	return affected > 0, nil
}
