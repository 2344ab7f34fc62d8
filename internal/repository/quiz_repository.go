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

const quizColumns = `id, course_id, title, description, questions_data, total_questions, max_points, attempts_allowed, time_limit_minutes, due_date, is_published, created_by, created_at, updated_at`

// QuizRepository persists quizzes with their embedded question bank.
type QuizRepository struct {
	db *sqlx.DB
}

// NewQuizRepository creates the repository.
func NewQuizRepository(db *sqlx.DB) *QuizRepository {
	return &QuizRepository{db: db}
}

// Create inserts a quiz.
func (r *QuizRepository) Create(ctx context.Context, q *models.Quiz) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now
	const query = `INSERT INTO quizzes (` + quizColumns + `) VALUES (:id, :course_id, :title, :description, :questions_data, :total_questions, :max_points, :attempts_allowed, :time_limit_minutes, :due_date, :is_published, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, q); err != nil {
		return fmt.Errorf("create quiz: %w", err)
	}
	return nil
}

// FindByID returns a quiz by id.
func (r *QuizRepository) FindByID(ctx context.Context, id string) (*models.Quiz, error) {
	var q models.Quiz
	if err := r.db.GetContext(ctx, &q, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find quiz: %w", err)
	}
	return &q, nil
}

// List returns quizzes matching the filter.
func (r *QuizRepository) List(ctx context.Context, filter models.QuizFilter) ([]models.Quiz, int, error) {
	var where whereBuilder
	if filter.CourseID != "" {
		where.add("course_id = %s", filter.CourseID)
	}
	if filter.PublishedOnly {
		where.add("is_published = %s", true)
	}
	base := ` FROM quizzes WHERE 1=1` + where.sql()
	limit, offset := pageWindow(filter.Page, filter.PageSize)
	query := fmt.Sprintf("SELECT %s%s ORDER BY created_at DESC LIMIT %d OFFSET %d", quizColumns, base, limit, offset)

	var items []models.Quiz
	if err := r.db.SelectContext(ctx, &items, query, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list quizzes: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+base, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count quizzes: %w", err)
	}
	return items, total, nil
}

// Update persists the quiz definition.
func (r *QuizRepository) Update(ctx context.Context, q *models.Quiz) error {
	q.UpdatedAt = time.Now().UTC()
	const query = `UPDATE quizzes SET title = :title, description = :description, questions_data = :questions_data, total_questions = :total_questions, max_points = :max_points, attempts_allowed = :attempts_allowed, time_limit_minutes = :time_limit_minutes, due_date = :due_date, is_published = :is_published, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, q)
	if err != nil {
		return fmt.Errorf("update quiz: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a quiz with its attempts.
func (r *QuizRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM quizzes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
