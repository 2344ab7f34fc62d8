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

const reportJobColumns = `id, type, format, params, status, progress, result_path, error_message, created_by, created_at, updated_at, finished_at`

// ReportRepository persists report job metadata and reads export datasets.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new report job row with generated defaults.
func (r *ReportRepository) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ReportStatusQueued
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	const query = `INSERT INTO report_jobs (` + reportJobColumns + `)
VALUES (:id, :type, :format, :params, :status, :progress, :result_path, :error_message, :created_by, :created_at, :updated_at, :finished_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create report job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	var job models.ReportJob
	if err := r.db.GetContext(ctx, &job, `SELECT `+reportJobColumns+` FROM report_jobs WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get report job: %w", err)
	}
	return &job, nil
}

// UpdateReportJobParams defines the mutable fields.
type UpdateReportJobParams struct {
	Status       *models.ReportStatus
	Progress     *int
	ResultPath   *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a job row.
func (r *ReportRepository) Update(ctx context.Context, id string, params UpdateReportJobParams) error {
	set := make([]string, 0, 6)
	args := make([]interface{}, 0, 7)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.Progress != nil {
		set = append(set, fmt.Sprintf("progress = $%d", argPos))
		args = append(args, *params.Progress)
		argPos++
	}
	if params.ResultPath != nil {
		set = append(set, fmt.Sprintf("result_path = $%d", argPos))
		args = append(args, *params.ResultPath)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}
	if params.FinishedAt != nil {
		set = append(set, fmt.Sprintf("finished_at = $%d", argPos))
		args = append(args, *params.FinishedAt)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	set = append(set, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now().UTC())
	argPos++

	query := fmt.Sprintf("UPDATE report_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update report job: %w", err)
	}
	return nil
}

// ListQueued fetches queued jobs (used for cold start recovery).
func (r *ReportRepository) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT ` + reportJobColumns + ` FROM report_jobs WHERE status = 'QUEUED' ORDER BY created_at ASC LIMIT $1`
	var jobs []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued report jobs: %w", err)
	}
	return jobs, nil
}

// ListFinishedBefore retrieves completed jobs prior to cutoff for cleanup.
func (r *ReportRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT ` + reportJobColumns + ` FROM report_jobs WHERE status = 'FINISHED' AND finished_at IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2`
	var jobs []models.ReportJob
	if err := r.db.SelectContext(ctx, &jobs, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished report jobs: %w", err)
	}
	return jobs, nil
}

// ClearResult forgets the stored file of an expired job.
func (r *ReportRepository) ClearResult(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE report_jobs SET result_path = NULL, updated_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("clear report result: %w", err)
	}
	return nil
}

func termFilter(params models.ReportJobParams, where *whereBuilder) {
	if params.CourseID != nil && *params.CourseID != "" {
		where.add("c.id = %s", *params.CourseID)
	}
	if params.Semester != "" {
		where.add("c.semester = %s", params.Semester)
	}
	if params.Year > 0 {
		where.add("c.year = %s", params.Year)
	}
}

// GradeRows returns the grades export dataset.
func (r *ReportRepository) GradeRows(ctx context.Context, params models.ReportJobParams) ([]models.GradeReportRow, error) {
	var where whereBuilder
	termFilter(params, &where)
	query := `SELECT p.first_name || ' ' || p.last_name AS student_name, u.email AS student_email, c.code AS course_code,
	COALESCE(a.title, q.title) AS item_title, g.source_kind, g.score, g.max_points, g.percentage, g.letter_grade, g.created_at
FROM grades g
JOIN users u ON u.id = g.student_id
JOIN profiles p ON p.user_id = u.id
JOIN courses c ON c.id = g.course_id
LEFT JOIN assignments a ON a.id = g.assignment_id
LEFT JOIN quizzes q ON q.id = g.quiz_id
WHERE 1=1` + where.sql() + ` ORDER BY c.code, p.last_name, g.created_at`
	var rows []models.GradeReportRow
	if err := r.db.SelectContext(ctx, &rows, query, where.args...); err != nil {
		return nil, fmt.Errorf("grade report rows: %w", err)
	}
	return rows, nil
}

// EnrollmentRows returns the enrollments export dataset.
func (r *ReportRepository) EnrollmentRows(ctx context.Context, params models.ReportJobParams) ([]models.EnrollmentReportRow, error) {
	var where whereBuilder
	termFilter(params, &where)
	query := `SELECT c.code AS course_code, c.name AS course_name, p.first_name || ' ' || p.last_name AS student_name,
	u.email AS student_email, e.status, e.enrolled_at
FROM enrollments e
JOIN courses c ON c.id = e.course_id
JOIN users u ON u.id = e.student_id
JOIN profiles p ON p.user_id = u.id
WHERE 1=1` + where.sql() + ` ORDER BY c.code, p.last_name`
	var rows []models.EnrollmentReportRow
	if err := r.db.SelectContext(ctx, &rows, query, where.args...); err != nil {
		return nil, fmt.Errorf("enrollment report rows: %w", err)
	}
	return rows, nil
}

// GPARows returns every active student with the cached GPA.
func (r *ReportRepository) GPARows(ctx context.Context) ([]models.GPAReportRow, error) {
	const query = `SELECT u.id AS student_id, p.first_name || ' ' || p.last_name AS student_name, u.email AS student_email, p.student_number, p.gpa
FROM users u JOIN profiles p ON p.user_id = u.id
WHERE u.role = 'STUDENT' AND u.is_active = TRUE
ORDER BY p.last_name, p.first_name`
	var rows []models.GPAReportRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("gpa report rows: %w", err)
	}
	return rows, nil
}
