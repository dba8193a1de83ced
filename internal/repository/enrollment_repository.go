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
	appErrors "github.com/lentera-edu/lms-api/pkg/errors"
)

// EnrollmentRepository handles persistence of enrollments. Admission runs
// inside a transaction holding the term row lock so the duplicate guard,
// the capacity check and the insert commit as one unit.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.student_id
LEFT JOIN course_terms t ON t.id = e.term_id
LEFT JOIN courses c ON c.id = t.course_id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TermID != "" {
		conditions = append(conditions, fmt.Sprintf("e.term_id = $%d", len(args)+1))
		args = append(args, filter.TermID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":   "e.created_at",
		"student_name": "u.full_name",
		"course_title": "c.title",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
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

	query := fmt.Sprintf(`SELECT e.id, e.term_id, e.student_id, e.status, e.cancelled_at, e.created_at, e.updated_at,
        u.full_name AS student_name, u.email AS student_email, c.title AS course_title, t.term_number AS term_number, t.start_date AS term_start
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	const query = `SELECT id, term_id, student_id, status, cancelled_at, created_at, updated_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with contextual info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.term_id, e.student_id, e.status, e.cancelled_at, e.created_at, e.updated_at,
        u.full_name AS student_name, u.email AS student_email, c.title AS course_title, t.term_number AS term_number, t.start_date AS term_start
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.student_id
        LEFT JOIN course_terms t ON t.id = e.term_id
        LEFT JOIN courses c ON c.id = t.course_id
        WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// InsertActive claims a seat. The term row is locked for the duration of
// the transaction, serializing concurrent admissions on the same term
// while leaving other terms fully parallel. Returns the occupancy
// snapshot observed inside the critical section together with
// appErrors.ErrAlreadyEnrolled or appErrors.ErrCapacityExceeded when the
// respective invariant refused the claim.
func (r *EnrollmentRepository) InsertActive(ctx context.Context, enrollment *models.Enrollment) (models.SeatCount, error) {
	var seats models.SeatCount

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return seats, fmt.Errorf("begin enroll tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = tx.GetContext(ctx, &seats.Capacity, `SELECT capacity FROM course_terms WHERE id = $1 FOR UPDATE`, enrollment.TermID); err != nil {
		if err == sql.ErrNoRows {
			return seats, sql.ErrNoRows
		}
		return seats, fmt.Errorf("lock term row: %w", err)
	}

	var duplicate int
	if err = tx.GetContext(ctx, &duplicate, `SELECT COUNT(*) FROM enrollments WHERE term_id = $1 AND student_id = $2 AND status = $3`,
		enrollment.TermID, enrollment.StudentID, models.EnrollmentStatusActive); err != nil {
		return seats, fmt.Errorf("check duplicate enrollment: %w", err)
	}
	if duplicate > 0 {
		err = appErrors.ErrAlreadyEnrolled
		return seats, err
	}

	if err = tx.GetContext(ctx, &seats.Active, `SELECT COUNT(*) FROM enrollments WHERE term_id = $1 AND status = $2`,
		enrollment.TermID, models.EnrollmentStatusActive); err != nil {
		return seats, fmt.Errorf("count active enrollments: %w", err)
	}
	if seats.Active >= seats.Capacity {
		err = appErrors.ErrCapacityExceeded
		return seats, err
	}

	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = time.Now().UTC()
	}
	enrollment.UpdatedAt = enrollment.CreatedAt
	enrollment.Status = models.EnrollmentStatusActive

	const insert = `INSERT INTO enrollments (id, term_id, student_id, status, cancelled_at, created_at, updated_at)
        VALUES (:id, :term_id, :student_id, :status, :cancelled_at, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, insert, enrollment); err != nil {
		return seats, fmt.Errorf("insert enrollment: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return seats, fmt.Errorf("commit enroll tx: %w", err)
	}
	seats.Active++
	return seats, nil
}

// MarkCancelled flips an ACTIVE enrollment to CANCELLED. The update is
// guarded by the current status; false means the row was not ACTIVE.
func (r *EnrollmentRepository) MarkCancelled(ctx context.Context, id string, now time.Time) (bool, error) {
	const query = `UPDATE enrollments SET status = $2, cancelled_at = $3, updated_at = $3 WHERE id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusCancelled, now, models.EnrollmentStatusActive)
	if err != nil {
		return false, fmt.Errorf("cancel enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel enrollment rows: %w", err)
	}
	return affected > 0, nil
}

// CancelActiveByTerm cancels every ACTIVE enrollment of a term and
// returns how many rows were flipped. Used when the term itself is
// cancelled.
func (r *EnrollmentRepository) CancelActiveByTerm(ctx context.Context, termID string, now time.Time) (int, error) {
	const query = `UPDATE enrollments SET status = $2, cancelled_at = $3, updated_at = $3 WHERE term_id = $1 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, termID, models.EnrollmentStatusCancelled, now, models.EnrollmentStatusActive)
	if err != nil {
		return 0, fmt.Errorf("cancel term enrollments: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel term enrollments rows: %w", err)
	}
	return int(affected), nil
}

// CountActiveByTerm returns the number of seats currently taken.
func (r *EnrollmentRepository) CountActiveByTerm(ctx context.Context, termID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE term_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, termID, models.EnrollmentStatusActive); err != nil {
		return 0, fmt.Errorf("count term enrollments: %w", err)
	}
	return count, nil
}

// ListActiveDetailByTerm returns active enrollments for roster exports.
func (r *EnrollmentRepository) ListActiveDetailByTerm(ctx context.Context, termID string) ([]models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.term_id, e.student_id, e.status, e.cancelled_at, e.created_at, e.updated_at,
        u.full_name AS student_name, u.email AS student_email, c.title AS course_title, t.term_number AS term_number, t.start_date AS term_start
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.student_id
        LEFT JOIN course_terms t ON t.id = e.term_id
        LEFT JOIN courses c ON c.id = t.course_id
        WHERE e.term_id = $1 AND e.status = $2
        ORDER BY u.full_name ASC`
	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, termID, models.EnrollmentStatusActive); err != nil {
		return nil, fmt.Errorf("list term roster: %w", err)
	}
	return enrollments, nil
}
