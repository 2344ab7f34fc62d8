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

var (
	// ErrAlreadyActive is returned when the student already holds an active enrollment.
	ErrAlreadyActive = errors.New("enrollment already active")
	// ErrCourseFull is returned when an enrollment would exceed the course capacity.
	ErrCourseFull = errors.New("course capacity reached")
)

const enrollmentColumns = `id, course_id, student_id, status, enrolled_by, enrolled_at, updated_at`

// upsertEnrollment inserts a new active row or reactivates a dropped/completed one.
// Active rows are left untouched, so zero affected rows means "already enrolled".
const upsertEnrollment = `INSERT INTO enrollments (id, course_id, student_id, status, enrolled_by, enrolled_at, updated_at)
VALUES ($1, $2, $3, 'ACTIVE', $4, $5, $5)
ON CONFLICT ON CONSTRAINT enrollments_course_student_key DO UPDATE SET status = 'ACTIVE', enrolled_by = EXCLUDED.enrolled_by, enrolled_at = EXCLUDED.enrolled_at, updated_at = EXCLUDED.updated_at
WHERE enrollments.status <> 'ACTIVE'`

// EnrollmentRepository manages course enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// lockCourse locks the course row and returns capacity and current active count.
func lockCourse(ctx context.Context, tx *sqlx.Tx, courseID string) (capacity, active int, err error) {
	if err = tx.GetContext(ctx, &capacity, `SELECT capacity FROM courses WHERE id = $1 FOR UPDATE`, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, err
		}
		return 0, 0, fmt.Errorf("lock course: %w", err)
	}
	if err = tx.GetContext(ctx, &active, `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = 'ACTIVE'`, courseID); err != nil {
		return 0, 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return capacity, active, nil
}

// Enroll adds a single student to a course.
func (r *EnrollmentRepository) Enroll(ctx context.Context, courseID, studentID string, enrolledBy *string) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enroll: %w", err)
	}

	capacity, active, err := lockCourse(ctx, tx, courseID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, err
	}
	var enrollment models.Enrollment
	err = tx.GetContext(ctx, &enrollment, upsertEnrollment+` RETURNING `+enrollmentColumns,
		uuid.NewString(), courseID, studentID, enrolledBy, time.Now().UTC())
	if err != nil {
		tx.Rollback() //nolint:errcheck
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAlreadyActive
		}
		return nil, fmt.Errorf("enroll student: %w", err)
	}
	if capacity > 0 && active >= capacity {
		tx.Rollback() //nolint:errcheck
		return nil, ErrCourseFull
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enroll: %w", err)
	}
	return &enrollment, nil
}

// BulkEnroll enrolls every listed student in one transaction. Students already active
// are reported as skipped. Nothing is committed when no student was newly enrolled or
// when the course would overflow.
func (r *EnrollmentRepository) BulkEnroll(ctx context.Context, courseID string, studentIDs []string, enrolledBy *string) (enrolled, skipped []string, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin bulk enroll: %w", err)
	}

	capacity, active, err := lockCourse(ctx, tx, courseID)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, nil, err
	}

	now := time.Now().UTC()
	enrolled = make([]string, 0, len(studentIDs))
	skipped = make([]string, 0)
	for _, studentID := range studentIDs {
		res, execErr := tx.ExecContext(ctx, upsertEnrollment, uuid.NewString(), courseID, studentID, enrolledBy, now)
		if execErr != nil {
			tx.Rollback() //nolint:errcheck
			return nil, nil, fmt.Errorf("bulk enroll student %s: %w", studentID, execErr)
		}
		if rows, _ := res.RowsAffected(); rows == 1 {
			enrolled = append(enrolled, studentID)
		} else {
			skipped = append(skipped, studentID)
		}
	}

	if len(enrolled) == 0 {
		tx.Rollback() //nolint:errcheck
		return enrolled, skipped, nil
	}
	if capacity > 0 && active+len(enrolled) > capacity {
		tx.Rollback() //nolint:errcheck
		return nil, nil, ErrCourseFull
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit bulk enroll: %w", err)
	}
	return enrolled, skipped, nil
}

// Drop marks an active enrollment as dropped.
func (r *EnrollmentRepository) Drop(ctx context.Context, courseID, studentID string) error {
	const query = `UPDATE enrollments SET status = 'DROPPED', updated_at = $3 WHERE course_id = $1 AND student_id = $2 AND status = 'ACTIVE'`
	res, err := r.db.ExecContext(ctx, query, courseID, studentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("drop enrollment: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsActive reports whether the student is actively enrolled in the course.
func (r *EnrollmentRepository) IsActive(ctx context.Context, courseID, studentID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM enrollments WHERE course_id = $1 AND student_id = $2 AND status = 'ACTIVE')`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, courseID, studentID); err != nil {
		return false, fmt.Errorf("check enrollment: %w", err)
	}
	return exists, nil
}

// ActiveStudentIDs lists the students actively enrolled in a course.
func (r *EnrollmentRepository) ActiveStudentIDs(ctx context.Context, courseID string) ([]string, error) {
	const query = `SELECT student_id FROM enrollments WHERE course_id = $1 AND status = 'ACTIVE' ORDER BY enrolled_at`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, courseID); err != nil {
		return nil, fmt.Errorf("list active students: %w", err)
	}
	return ids, nil
}

// CountActive counts active enrollments across all courses.
func (r *EnrollmentRepository) CountActive(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM enrollments WHERE status = 'ACTIVE'`); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return total, nil
}

// List returns enrollment details filtered by course and/or student.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var where whereBuilder
	if filter.CourseID != "" {
		where.add("e.course_id = %s", filter.CourseID)
	}
	if filter.StudentID != "" {
		where.add("e.student_id = %s", filter.StudentID)
	}
	if filter.Status != "" {
		where.add("e.status = %s", filter.Status)
	}

	base := ` FROM enrollments e
JOIN users u ON u.id = e.student_id
JOIN profiles p ON p.user_id = u.id
JOIN courses c ON c.id = e.course_id
WHERE 1=1` + where.sql()
	limit, offset := pageWindow(filter.Page, filter.PageSize)
	query := fmt.Sprintf(`SELECT e.id, e.course_id, e.student_id, e.status, e.enrolled_by, e.enrolled_at, e.updated_at,
	p.first_name || ' ' || p.last_name AS student_name, u.email AS student_email, c.code AS course_code, c.name AS course_name%s
ORDER BY p.last_name ASC, p.first_name ASC LIMIT %d OFFSET %d`, base, limit, offset)

	var items []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &items, query, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+base, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return items, total, nil
}
