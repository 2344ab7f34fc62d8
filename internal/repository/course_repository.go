package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edu-manage-api/internal/models"
)

const courseColumns = `id, code, name, description, credits, semester, year, schedule, room, instructor_id, capacity, status, study_plan, created_by, created_at, updated_at`

// CourseRepository handles persistence for course offerings.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository creates a new CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create inserts a course. A duplicate code surfaces as a unique violation.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now
	const query = `INSERT INTO courses (` + courseColumns + `) VALUES (:id, :code, :name, :description, :credits, :semester, :year, :schedule, :room, :instructor_id, :capacity, :status, :study_plan, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// FindByID fetches a course by id.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT ` + courseColumns + ` FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find course: %w", err)
	}
	return &course, nil
}

// CodeExists reports whether a course code is taken.
func (r *CourseRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM courses WHERE code = $1)`, code); err != nil {
		return false, fmt.Errorf("check course code: %w", err)
	}
	return exists, nil
}

// List returns courses matching the filter.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.Course, int, error) {
	var where whereBuilder
	if filter.Status != "" {
		where.add("status = %s", filter.Status)
	}
	if filter.InstructorID != "" {
		where.add("instructor_id = %s", filter.InstructorID)
	}
	if filter.StudentID != "" {
		where.add("id IN (SELECT course_id FROM enrollments WHERE student_id = %s AND status = 'ACTIVE')", filter.StudentID)
	}
	if filter.Semester != "" {
		where.add("semester = %s", filter.Semester)
	}
	if filter.Year > 0 {
		where.add("year = %s", filter.Year)
	}
	if filter.Search != "" {
		where.add("(LOWER(code) LIKE %s OR LOWER(name) LIKE %s)", "%"+strings.ToLower(filter.Search)+"%")
	}

	base := ` FROM courses WHERE 1=1` + where.sql()
	order := sortClause(filter.SortBy, filter.SortOrder, map[string]string{
		"code":       "code",
		"name":       "name",
		"year":       "year",
		"created_at": "created_at",
	}, "created_at")
	limit, offset := pageWindow(filter.Page, filter.PageSize)

	query := fmt.Sprintf("SELECT %s%s ORDER BY %s LIMIT %d OFFSET %d", courseColumns, base, order, limit, offset)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+base, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// Update persists the mutable course fields. The study plan has its own writer.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `UPDATE courses SET name = :name, description = :description, credits = :credits, semester = :semester, year = :year, schedule = :schedule, room = :room, instructor_id = :instructor_id, capacity = :capacity, status = :status, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateStudyPlan replaces the study plan. A nil plan clears it.
func (r *CourseRepository) UpdateStudyPlan(ctx context.Context, id string, plan *models.StudyPlan) error {
	const query = `UPDATE courses SET study_plan = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, plan, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update study plan: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a course and its dependants.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByStatus groups courses by status.
func (r *CourseRepository) CountByStatus(ctx context.Context) ([]models.CountRow, error) {
	var rows []models.CountRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT status AS key, COUNT(*) AS count FROM courses GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count courses by status: %w", err)
	}
	return rows, nil
}
