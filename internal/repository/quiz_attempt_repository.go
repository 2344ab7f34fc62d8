package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/edu-manage-api/internal/models"
)

var (
	// ErrAttemptLimit is returned when the student used every allowed attempt.
	ErrAttemptLimit = errors.New("attempt limit reached")
	// ErrConcurrentAttempt is returned when two starts raced for the same attempt number.
	ErrConcurrentAttempt = errors.New("concurrent attempt start")
	// ErrAttemptClosed is returned when the attempt was already submitted.
	ErrAttemptClosed = errors.New("attempt already submitted")
)

const attemptColumns = `id, quiz_id, student_id, attempt_number, started_at, submitted_at, score, max_points, answers, results`

// createNextAttempt numbers the attempt from the existing count and inserts nothing
// once the count reached the allowance.
const createNextAttempt = `INSERT INTO quiz_attempts (id, quiz_id, student_id, attempt_number, started_at, max_points, answers, results)
SELECT $1::uuid, $2::uuid, $3::uuid, COUNT(*) + 1, $4, $5, '{}'::jsonb, '[]'::jsonb
FROM quiz_attempts WHERE quiz_id = $2::uuid AND student_id = $3::uuid
HAVING COUNT(*) < $6
RETURNING attempt_number`

// QuizAttemptRepository persists quiz attempts.
type QuizAttemptRepository struct {
	db *sqlx.DB
}

// NewQuizAttemptRepository creates the repository.
func NewQuizAttemptRepository(db *sqlx.DB) *QuizAttemptRepository {
	return &QuizAttemptRepository{db: db}
}

// CreateNext inserts the next attempt when fewer than allowed exist.
func (r *QuizAttemptRepository) CreateNext(ctx context.Context, attempt *models.QuizAttempt, allowed int) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	var number int
	err := r.db.GetContext(ctx, &number, createNextAttempt,
		attempt.ID, attempt.QuizID, attempt.StudentID, attempt.StartedAt, attempt.MaxPoints, allowed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAttemptLimit
		}
		if IsUniqueViolation(err) {
			return ErrConcurrentAttempt
		}
		return fmt.Errorf("create quiz attempt: %w", err)
	}
	attempt.AttemptNumber = number
	attempt.Answers = models.QuizAnswers{}
	attempt.Results = models.QuizResults{}
	return nil
}

// FindByID returns an attempt.
func (r *QuizAttemptRepository) FindByID(ctx context.Context, id string) (*models.QuizAttempt, error) {
	var a models.QuizAttempt
	if err := r.db.GetContext(ctx, &a, `SELECT `+attemptColumns+` FROM quiz_attempts WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find quiz attempt: %w", err)
	}
	return &a, nil
}

// FindOpen returns the latest unsubmitted attempt of the student, if any.
func (r *QuizAttemptRepository) FindOpen(ctx context.Context, quizID, studentID string) (*models.QuizAttempt, error) {
	const query = `SELECT ` + attemptColumns + ` FROM quiz_attempts WHERE quiz_id = $1 AND student_id = $2 AND submitted_at IS NULL ORDER BY attempt_number DESC LIMIT 1`
	var a models.QuizAttempt
	if err := r.db.GetContext(ctx, &a, query, quizID, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find open quiz attempt: %w", err)
	}
	return &a, nil
}

// Submit records the scored answers once.
func (r *QuizAttemptRepository) Submit(ctx context.Context, attempt *models.QuizAttempt) error {
	const query = `UPDATE quiz_attempts SET submitted_at = $2, score = $3, answers = $4, results = $5 WHERE id = $1 AND submitted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, attempt.ID, attempt.SubmittedAt, attempt.Score, attempt.Answers, attempt.Results)
	if err != nil {
		return fmt.Errorf("submit quiz attempt: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrAttemptClosed
	}
	return nil
}

// ListByQuiz returns attempts for a quiz. A non-empty studentID narrows to that student.
func (r *QuizAttemptRepository) ListByQuiz(ctx context.Context, quizID, studentID string) ([]models.QuizAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM quiz_attempts WHERE quiz_id = $1`
	args := []interface{}{quizID}
	if studentID != "" {
		query += ` AND student_id = $2`
		args = append(args, studentID)
	}
	query += ` ORDER BY student_id, attempt_number`
	var items []models.QuizAttempt
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list quiz attempts: %w", err)
	}
	return items, nil
}
