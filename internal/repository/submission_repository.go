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

// ErrAlreadySubmitted is returned when a student submits twice for one assignment.
var ErrAlreadySubmitted = errors.New("submission already exists")

const submissionColumns = `id, assignment_id, student_id, content, file_ids, status, is_late, submitted_at`

// SubmissionRepository persists assignment hand-ins.
type SubmissionRepository struct {
	db *sqlx.DB
}

// NewSubmissionRepository creates the repository.
func NewSubmissionRepository(db *sqlx.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Create stores the submission unless one exists for (assignment, student).
func (r *SubmissionRepository) Create(ctx context.Context, s *models.Submission) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.SubmittedAt.IsZero() {
		s.SubmittedAt = time.Now().UTC()
	}
	if s.Status == "" {
		s.Status = models.SubmissionStatusSubmitted
	}
	if s.FileIDs == nil {
		s.FileIDs = []string{}
	}
	const query = `INSERT INTO submissions (` + submissionColumns + `) VALUES (:id, :assignment_id, :student_id, :content, :file_ids, :status, :is_late, :submitted_at) ON CONFLICT ON CONSTRAINT submissions_assignment_student_key DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, s)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAlreadySubmitted
	}
	return nil
}

// FindByID returns a submission by id.
func (r *SubmissionRepository) FindByID(ctx context.Context, id string) (*models.Submission, error) {
	var s models.Submission
	if err := r.db.GetContext(ctx, &s, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find submission: %w", err)
	}
	return &s, nil
}

// ListByAssignment returns every submission with its grade summary.
func (r *SubmissionRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.SubmissionDetail, error) {
	const query = `SELECT s.id, s.assignment_id, s.student_id, s.content, s.file_ids, s.status, s.is_late, s.submitted_at,
	p.first_name || ' ' || p.last_name AS student_name, g.id AS grade_id, g.percentage, g.letter_grade
FROM submissions s
JOIN profiles p ON p.user_id = s.student_id
LEFT JOIN grades g ON g.submission_id = s.id
WHERE s.assignment_id = $1
ORDER BY s.submitted_at ASC`
	var items []models.SubmissionDetail
	if err := r.db.SelectContext(ctx, &items, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return items, nil
}

// CountPending counts submissions still waiting for a grade.
func (r *SubmissionRepository) CountPending(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM submissions WHERE status = 'SUBMITTED'`); err != nil {
		return 0, fmt.Errorf("count pending submissions: %w", err)
	}
	return total, nil
}
