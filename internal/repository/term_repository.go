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

// TermRepository handles persistence for course terms.
type TermRepository struct {
	db *sqlx.DB
}

// NewTermRepository instantiates a term repository.
func NewTermRepository(db *sqlx.DB) *TermRepository {
	return &TermRepository{db: db}
}

const termColumns = `t.id, t.course_id, t.term_number, t.start_date, t.end_date, t.days_of_week, t.start_time, t.end_time, t.status, t.capacity, t.instructor_id, t.created_at, t.updated_at`

// List returns term details matching provided filters.
func (r *TermRepository) List(ctx context.Context, filter models.TermFilter) ([]models.TermDetail, int, error) {
	base := `FROM course_terms t
LEFT JOIN courses c ON c.id = t.course_id
LEFT JOIN users u ON u.id = t.instructor_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("t.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.InstructorID != "" {
		conditions = append(conditions, fmt.Sprintf("t.instructor_id = $%d", len(args)+1))
		args = append(args, filter.InstructorID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("t.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"start_date":   "t.start_date",
		"term_number":  "t.term_number",
		"created_at":   "t.created_at",
		"course_title": "c.title",
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "start_date"
	}
	orderBy := allowedSorts[sortBy]
	if orderBy == "" {
		orderBy = "t.start_date"
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

	query := fmt.Sprintf(`SELECT %s, c.title AS course_title, u.full_name AS instructor_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, termColumns, base+clause, orderBy, order, size, offset)

	var terms []models.TermDetail
	if err := r.db.SelectContext(ctx, &terms, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list terms: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count terms: %w", err)
	}
	return terms, total, nil
}

// FindByID loads a term by identifier.
func (r *TermRepository) FindByID(ctx context.Context, id string) (*models.CourseTerm, error) {
	const query = `SELECT id, course_id, term_number, start_date, end_date, days_of_week, start_time, end_time, status, capacity, instructor_id, created_at, updated_at FROM course_terms WHERE id = $1`
	var term models.CourseTerm
	if err := r.db.GetContext(ctx, &term, query, id); err != nil {
		return nil, err
	}
	return &term, nil
}

// FindDetailByID loads a term with course and instructor context.
func (r *TermRepository) FindDetailByID(ctx context.Context, id string) (*models.TermDetail, error) {
	query := fmt.Sprintf(`SELECT %s, c.title AS course_title, u.full_name AS instructor_name
        FROM course_terms t
        LEFT JOIN courses c ON c.id = t.course_id
        LEFT JOIN users u ON u.id = t.instructor_id
        WHERE t.id = $1`, termColumns)
	var detail models.TermDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsByCourseAndNumber checks term-number uniqueness within a course.
func (r *TermRepository) ExistsByCourseAndNumber(ctx context.Context, courseID string, termNumber int, excludeID string) (bool, error) {
	base := "SELECT 1 FROM course_terms WHERE course_id = $1 AND term_number = $2"
	args := []interface{}{courseID, termNumber}
	if excludeID != "" {
		base += " AND id <> $3"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, base+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check term uniqueness: %w", err)
	}
	return true, nil
}

// Create inserts a new term record.
func (r *TermRepository) Create(ctx context.Context, term *models.CourseTerm) error {
	if term.ID == "" {
		term.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if term.CreatedAt.IsZero() {
		term.CreatedAt = now
	}
	term.UpdatedAt = now
	if term.Status == "" {
		term.Status = models.TermStatusScheduled
	}

	const query = `INSERT INTO course_terms (id, course_id, term_number, start_date, end_date, days_of_week, start_time, end_time, status, capacity, instructor_id, created_at, updated_at)
        VALUES (:id, :course_id, :term_number, :start_date, :end_date, :days_of_week, :start_time, :end_time, :status, :capacity, :instructor_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("create term: %w", err)
	}
	return nil
}

// Update modifies an existing term's scheduling metadata.
func (r *TermRepository) Update(ctx context.Context, term *models.CourseTerm) error {
	term.UpdatedAt = time.Now().UTC()
	const query = `UPDATE course_terms SET term_number = :term_number, start_date = :start_date, end_date = :end_date, days_of_week = :days_of_week, start_time = :start_time, end_time = :end_time, capacity = :capacity, instructor_id = :instructor_id, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, term); err != nil {
		return fmt.Errorf("update term: %w", err)
	}
	return nil
}

// MarkCancelled writes the sticky CANCELLED state guarded by the current
// status not already being CANCELLED. Returns false when the term was
// already cancelled.
func (r *TermRepository) MarkCancelled(ctx context.Context, id string, now time.Time) (bool, error) {
	const query = `UPDATE course_terms SET status = $2, updated_at = $3 WHERE id = $1 AND status <> $2`
	res, err := r.db.ExecContext(ctx, query, id, models.TermStatusCancelled, now)
	if err != nil {
		return false, fmt.Errorf("cancel term: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel term rows: %w", err)
	}
	return affected > 0, nil
}
