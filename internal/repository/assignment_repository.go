package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edu-manage-api/internal/models"
)

const assignmentColumns = `id, course_id, title, description, due_date, max_points, status, allow_late, created_by, created_at, updated_at`

// AssignmentRepository persists course assignments.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository creates the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create inserts an assignment.
func (r *AssignmentRepository) Create(ctx context.Context, a *models.Assignment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.Status == "" {
		a.Status = models.AssignmentStatusAssigned
	}
	const query = `INSERT INTO assignments (` + assignmentColumns + `) VALUES (:id, :course_id, :title, :description, :due_date, :max_points, :status, :allow_late, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("create assignment: %w", err)
	}
	return nil
}

// FindByID returns an assignment by id.
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*models.Assignment, error) {
	var a models.Assignment
	if err := r.db.GetContext(ctx, &a, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find assignment: %w", err)
	}
	return &a, nil
}

// List returns assignments ordered by due date.
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	var where whereBuilder
	if filter.CourseID != "" {
		where.add("course_id = %s", filter.CourseID)
	}
	if filter.Status != "" {
		where.add("status = %s", filter.Status)
	}
	if filter.DueAfter != nil {
		where.add("due_date >= %s", *filter.DueAfter)
	}
	base := ` FROM assignments WHERE 1=1` + where.sql()
	limit, offset := pageWindow(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s%s ORDER BY due_date ASC LIMIT %d OFFSET %d", assignmentColumns, base, limit, offset)

	var items []models.Assignment
	if err := r.db.SelectContext(ctx, &items, query, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+base, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}
	return items, total, nil
}

// ListOverdueForStudent returns past-due assignments of the student's active courses
// that have no submission yet.
func (r *AssignmentRepository) ListOverdueForStudent(ctx context.Context, studentID string, now time.Time) ([]models.Assignment, error) {
	const query = `SELECT a.id, a.course_id, a.title, a.description, a.due_date, a.max_points, a.status, a.allow_late, a.created_by, a.created_at, a.updated_at
FROM assignments a
JOIN enrollments e ON e.course_id = a.course_id AND e.student_id = $1 AND e.status = 'ACTIVE'
WHERE a.due_date < $2
AND NOT EXISTS (SELECT 1 FROM submissions s WHERE s.assignment_id = a.id AND s.student_id = $1)
ORDER BY a.due_date ASC`
	var items []models.Assignment
	if err := r.db.SelectContext(ctx, &items, query, studentID, now); err != nil {
		return nil, fmt.Errorf("list overdue assignments: %w", err)
	}
	return items, nil
}

// ListOverdueForInstructor returns past-due assignments in courses taught by the instructor.
// An empty instructor id lists every course.
func (r *AssignmentRepository) ListOverdueForInstructor(ctx context.Context, instructorID string, now time.Time) ([]models.Assignment, error) {
	query := `SELECT a.id, a.course_id, a.title, a.description, a.due_date, a.max_points, a.status, a.allow_late, a.created_by, a.created_at, a.updated_at
FROM assignments a JOIN courses c ON c.id = a.course_id
WHERE a.due_date < $1 AND a.status <> 'GRADED'`
	args := []interface{}{now}
	if instructorID != "" {
		query += ` AND c.instructor_id = $2`
		args = append(args, instructorID)
	}
	query += ` ORDER BY a.due_date ASC`
	var items []models.Assignment
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list overdue assignments: %w", err)
	}
	return items, nil
}

// Update persists editable assignment fields.
func (r *AssignmentRepository) Update(ctx context.Context, a *models.Assignment) error {
	a.UpdatedAt = time.Now().UTC()
	const query = `UPDATE assignments SET title = :title, description = :description, due_date = :due_date, max_points = :max_points, allow_late = :allow_late, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, a)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AdvanceStatus moves the assignment from one status to the next only while it
// still holds from, so a concurrent grade is never rolled back. It reports
// whether the row changed.
func (r *AssignmentRepository) AdvanceStatus(ctx context.Context, id string, from, to models.AssignmentStatus) (bool, error) {
	const query = `UPDATE assignments SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2`
	res, err := r.db.ExecContext(ctx, query, id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("advance assignment status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance assignment status: %w", err)
	}
	return rows > 0, nil
}

// Delete removes an assignment.
func (r *AssignmentRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
