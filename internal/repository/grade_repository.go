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

// ErrGradeExists is returned when the submission already carries a grade.
var ErrGradeExists = errors.New("grade already exists")

const gradeColumns = `id, student_id, course_id, assignment_id, submission_id, quiz_id, quiz_attempt_id, source_kind, score, max_points, percentage, letter_grade, weight, is_extra_credit, feedback, graded_by, created_at, updated_at`

const insertGrade = `INSERT INTO grades (` + gradeColumns + `) VALUES (:id, :student_id, :course_id, :assignment_id, :submission_id, :quiz_id, :quiz_attempt_id, :source_kind, :score, :max_points, :percentage, :letter_grade, :weight, :is_extra_credit, :feedback, :graded_by, :created_at, :updated_at)`

const gradeDetailSelect = `SELECT g.id, g.student_id, g.course_id, g.assignment_id, g.submission_id, g.quiz_id, g.quiz_attempt_id, g.source_kind,
	g.score, g.max_points, g.percentage, g.letter_grade, g.weight, g.is_extra_credit, g.feedback, g.graded_by, g.created_at, g.updated_at,
	c.code AS course_code, c.name AS course_name, c.semester, c.year, COALESCE(a.title, q.title) AS item_title
FROM grades g
JOIN courses c ON c.id = g.course_id
LEFT JOIN assignments a ON a.id = g.assignment_id
LEFT JOIN quizzes q ON q.id = g.quiz_id`

// GradeRepository persists grades from both manual and quiz sources.
type GradeRepository struct {
	db *sqlx.DB
}

// NewGradeRepository creates the repository.
func NewGradeRepository(db *sqlx.DB) *GradeRepository {
	return &GradeRepository{db: db}
}

func prepareGrade(g *models.Grade) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now
}

// namedReturning runs a named insert with RETURNING id inside tx.
func namedReturning(ctx context.Context, tx *sqlx.Tx, query string, arg interface{}) (string, error) {
	bound, args, err := tx.BindNamed(query, arg)
	if err != nil {
		return "", err
	}
	var id string
	if err := tx.GetContext(ctx, &id, bound, args...); err != nil {
		return "", err
	}
	return id, nil
}

// CreateForSubmission inserts the grade of a submission and flips the submission and
// assignment to GRADED in one transaction. A second grade yields ErrGradeExists.
func (r *GradeRepository) CreateForSubmission(ctx context.Context, g *models.Grade) error {
	if g.SubmissionID == nil || g.AssignmentID == nil {
		return fmt.Errorf("create submission grade: submission and assignment are required")
	}
	prepareGrade(g)
	g.SourceKind = models.GradeSourceManual

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin grade submission: %w", err)
	}

	if _, err := namedReturning(ctx, tx, insertGrade+` ON CONFLICT ON CONSTRAINT grades_submission_key DO NOTHING RETURNING id`, g); err != nil {
		tx.Rollback() //nolint:errcheck
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGradeExists
		}
		return fmt.Errorf("create submission grade: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE submissions SET status = 'GRADED' WHERE id = $1`, *g.SubmissionID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("mark submission graded: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE assignments SET status = 'GRADED', updated_at = $2 WHERE id = $1`, *g.AssignmentID, g.UpdatedAt); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("mark assignment graded: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit grade submission: %w", err)
	}
	return nil
}

// CreateForQuiz inserts a quiz grade unless the student already has one for the quiz.
// It returns the stored grade and whether this call created it.
func (r *GradeRepository) CreateForQuiz(ctx context.Context, g *models.Grade) (*models.Grade, bool, error) {
	if g.QuizID == nil {
		return nil, false, fmt.Errorf("create quiz grade: quiz is required")
	}
	prepareGrade(g)
	g.SourceKind = models.GradeSourceQuiz

	query, args, err := r.db.BindNamed(insertGrade+` ON CONFLICT ON CONSTRAINT grades_student_quiz_key DO NOTHING RETURNING id`, g)
	if err != nil {
		return nil, false, fmt.Errorf("bind quiz grade: %w", err)
	}
	var id string
	if err := r.db.GetContext(ctx, &id, query, args...); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("create quiz grade: %w", err)
		}
		existing, findErr := r.FindByStudentQuiz(ctx, g.StudentID, *g.QuizID)
		if findErr != nil {
			return nil, false, findErr
		}
		return existing, false, nil
	}
	return g, true, nil
}

// FindByID returns a grade.
func (r *GradeRepository) FindByID(ctx context.Context, id string) (*models.Grade, error) {
	var g models.Grade
	if err := r.db.GetContext(ctx, &g, `SELECT `+gradeColumns+` FROM grades WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find grade: %w", err)
	}
	return &g, nil
}

// FindByStudentQuiz returns the quiz grade of a student.
func (r *GradeRepository) FindByStudentQuiz(ctx context.Context, studentID, quizID string) (*models.Grade, error) {
	var g models.Grade
	const query = `SELECT ` + gradeColumns + ` FROM grades WHERE student_id = $1 AND quiz_id = $2`
	if err := r.db.GetContext(ctx, &g, query, studentID, quizID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find quiz grade: %w", err)
	}
	return &g, nil
}

// ListLegacyQuizCandidates returns quiz-looking grades recorded before the explicit source existed.
func (r *GradeRepository) ListLegacyQuizCandidates(ctx context.Context, studentID, courseID string) ([]models.Grade, error) {
	const query = `SELECT ` + gradeColumns + ` FROM grades WHERE student_id = $1 AND course_id = $2 AND quiz_id IS NULL AND submission_id IS NULL AND feedback LIKE 'Quiz: %'`
	var items []models.Grade
	if err := r.db.SelectContext(ctx, &items, query, studentID, courseID); err != nil {
		return nil, fmt.Errorf("list legacy quiz grades: %w", err)
	}
	return items, nil
}

// Update persists a regraded score.
func (r *GradeRepository) Update(ctx context.Context, g *models.Grade) error {
	g.UpdatedAt = time.Now().UTC()
	const query = `UPDATE grades SET score = :score, percentage = :percentage, letter_grade = :letter_grade, weight = :weight, is_extra_credit = :is_extra_credit, feedback = :feedback, graded_by = :graded_by, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, g)
	if err != nil {
		return fmt.Errorf("update grade: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListLetterGrades returns the letter grades of a student, restricted to the course term when set.
func (r *GradeRepository) ListLetterGrades(ctx context.Context, filter models.GradeFilter) ([]string, error) {
	var where whereBuilder
	where.add("g.student_id = %s", filter.StudentID)
	if filter.Semester != "" {
		where.add("c.semester = %s", filter.Semester)
	}
	if filter.Year > 0 {
		where.add("c.year = %s", filter.Year)
	}
	query := `SELECT g.letter_grade FROM grades g JOIN courses c ON c.id = g.course_id WHERE 1=1` + where.sql()
	var letters []string
	if err := r.db.SelectContext(ctx, &letters, query, where.args...); err != nil {
		return nil, fmt.Errorf("list letter grades: %w", err)
	}
	return letters, nil
}

// List returns grade details for a student or a course.
func (r *GradeRepository) List(ctx context.Context, filter models.GradeFilter) ([]models.GradeDetail, error) {
	var where whereBuilder
	if filter.StudentID != "" {
		where.add("g.student_id = %s", filter.StudentID)
	}
	if filter.CourseID != "" {
		where.add("g.course_id = %s", filter.CourseID)
	}
	if filter.Semester != "" {
		where.add("c.semester = %s", filter.Semester)
	}
	if filter.Year > 0 {
		where.add("c.year = %s", filter.Year)
	}
	query := gradeDetailSelect + ` WHERE 1=1` + where.sql() + ` ORDER BY c.year DESC, c.semester, g.created_at`
	var items []models.GradeDetail
	if err := r.db.SelectContext(ctx, &items, query, where.args...); err != nil {
		return nil, fmt.Errorf("list grades: %w", err)
	}
	return items, nil
}
