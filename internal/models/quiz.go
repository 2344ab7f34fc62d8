package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Question is one multiple-choice item of a quiz. The JSON shape matches stored question banks.
type Question struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Points        float64  `json:"points"`
	Explanation   string   `json:"explanation,omitempty"`
}

// QuestionBank is the JSON document stored in quizzes.questions_data.
type QuestionBank struct {
	Questions []Question `json:"questions"`
}

// Validate enforces the question schema.
func (b QuestionBank) Validate() error {
	if len(b.Questions) == 0 {
		return fmt.Errorf("at least one question is required")
	}
	seen := make(map[string]struct{}, len(b.Questions))
	for i, q := range b.Questions {
		id := strings.TrimSpace(q.ID)
		if id == "" {
			return fmt.Errorf("question %d: id is required", i+1)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("question %q: duplicate id", id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(q.Text) == "" {
			return fmt.Errorf("question %q: text is required", id)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("question %q: at least two options are required", id)
		}
		for j, opt := range q.Options {
			if strings.TrimSpace(opt) == "" {
				return fmt.Errorf("question %q: option %d is empty", id, j)
			}
		}
		if q.CorrectAnswer < 0 || q.CorrectAnswer >= len(q.Options) {
			return fmt.Errorf("question %q: correctAnswer %d out of range", id, q.CorrectAnswer)
		}
		if q.Points <= 0 {
			return fmt.Errorf("question %q: points must be positive", id)
		}
	}
	return nil
}

// MaxPoints sums the points of every question.
func (b QuestionBank) MaxPoints() float64 {
	total := 0.0
	for _, q := range b.Questions {
		total += q.Points
	}
	return total
}

// StudentView returns the questions without answers or explanations.
func (b QuestionBank) StudentView() []StudentQuestion {
	out := make([]StudentQuestion, len(b.Questions))
	for i, q := range b.Questions {
		out[i] = StudentQuestion{ID: q.ID, Text: q.Text, Options: q.Options, Points: q.Points}
	}
	return out
}

// Value marshals the bank for persistence.
func (b QuestionBank) Value() (driver.Value, error) {
	if b.Questions == nil {
		b.Questions = []Question{}
	}
	return valueJSON(b, "question bank")
}

// Scan unmarshals the JSONB column.
func (b *QuestionBank) Scan(value interface{}) error {
	*b = QuestionBank{}
	return scanJSON(value, b, "question bank")
}

// StudentQuestion is the answer-free projection of a question.
type StudentQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
	Points  float64  `json:"points"`
}

// Quiz belongs to a course and embeds its question bank.
type Quiz struct {
	ID               string       `db:"id" json:"id"`
	CourseID         string       `db:"course_id" json:"course_id"`
	Title            string       `db:"title" json:"title"`
	Description      *string      `db:"description" json:"description,omitempty"`
	QuestionsData    QuestionBank `db:"questions_data" json:"questions_data"`
	TotalQuestions   int          `db:"total_questions" json:"total_questions"`
	MaxPoints        float64      `db:"max_points" json:"max_points"`
	AttemptsAllowed  int          `db:"attempts_allowed" json:"attempts_allowed"`
	TimeLimitMinutes *int         `db:"time_limit_minutes" json:"time_limit_minutes,omitempty"`
	DueDate          *time.Time   `db:"due_date" json:"due_date,omitempty"`
	IsPublished      bool         `db:"is_published" json:"is_published"`
	CreatedBy        string       `db:"created_by" json:"created_by"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// ApplyQuestionBank sets the bank and the derived totals.
func (q *Quiz) ApplyQuestionBank(bank QuestionBank) {
	q.QuestionsData = bank
	q.TotalQuestions = len(bank.Questions)
	q.MaxPoints = bank.MaxPoints()
}

// IsClosed reports whether the due date has passed.
func (q *Quiz) IsClosed(now time.Time) bool {
	return q.DueDate != nil && now.After(*q.DueDate)
}

// StudentQuiz is the quiz as returned to students.
type StudentQuiz struct {
	ID               string            `json:"id"`
	CourseID         string            `json:"course_id"`
	Title            string            `json:"title"`
	Description      *string           `json:"description,omitempty"`
	Questions        []StudentQuestion `json:"questions"`
	TotalQuestions   int               `json:"total_questions"`
	MaxPoints        float64           `json:"max_points"`
	AttemptsAllowed  int               `json:"attempts_allowed"`
	TimeLimitMinutes *int              `json:"time_limit_minutes,omitempty"`
	DueDate          *time.Time        `json:"due_date,omitempty"`
}

// ForStudent strips the answer key.
func (q *Quiz) ForStudent() StudentQuiz {
	return StudentQuiz{
		ID:               q.ID,
		CourseID:         q.CourseID,
		Title:            q.Title,
		Description:      q.Description,
		Questions:        q.QuestionsData.StudentView(),
		TotalQuestions:   q.TotalQuestions,
		MaxPoints:        q.MaxPoints,
		AttemptsAllowed:  q.AttemptsAllowed,
		TimeLimitMinutes: q.TimeLimitMinutes,
		DueDate:          q.DueDate,
	}
}

// QuizFilter narrows quiz listings.
type QuizFilter struct {
	CourseID      string
	PublishedOnly bool
	Page          int
	PageSize      int
}

// QuizAnswers maps question id to the chosen option index.
type QuizAnswers map[string]int

// Value marshals answers for persistence.
func (a QuizAnswers) Value() (driver.Value, error) {
	if a == nil {
		a = QuizAnswers{}
	}
	return valueJSON(map[string]int(a), "quiz answers")
}

// UnmarshalJSON drops null entries so an unanswered question stays missing
// instead of decoding as option 0.
func (a *QuizAnswers) UnmarshalJSON(data []byte) error {
	var raw map[string]*int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	answers := make(QuizAnswers, len(raw))
	for id, choice := range raw {
		if choice != nil {
			answers[id] = *choice
		}
	}
	*a = answers
	return nil
}

// Scan unmarshals the JSONB column.
func (a *QuizAnswers) Scan(value interface{}) error {
	*a = QuizAnswers{}
	return scanJSON(value, (*map[string]int)(a), "quiz answers")
}

// QuestionResult is the per-question outcome of a graded attempt.
type QuestionResult struct {
	QuestionID    string  `json:"questionId"`
	StudentAnswer *int    `json:"studentAnswer"`
	CorrectAnswer int     `json:"correctAnswer"`
	IsCorrect     bool    `json:"isCorrect"`
	PointsEarned  float64 `json:"pointsEarned"`
	Explanation   string  `json:"explanation,omitempty"`
}

// QuizResults is the JSONB list of question results.
type QuizResults []QuestionResult

// Value marshals results for persistence.
func (r QuizResults) Value() (driver.Value, error) {
	if r == nil {
		r = QuizResults{}
	}
	return valueJSON([]QuestionResult(r), "quiz results")
}

// Scan unmarshals the JSONB column.
func (r *QuizResults) Scan(value interface{}) error {
	*r = QuizResults{}
	return scanJSON(value, (*[]QuestionResult)(r), "quiz results")
}

// QuizAttempt is one try of a student at a quiz. Status is implied by SubmittedAt.
type QuizAttempt struct {
	ID            string      `db:"id" json:"id"`
	QuizID        string      `db:"quiz_id" json:"quiz_id"`
	StudentID     string      `db:"student_id" json:"student_id"`
	AttemptNumber int         `db:"attempt_number" json:"attempt_number"`
	StartedAt     time.Time   `db:"started_at" json:"started_at"`
	SubmittedAt   *time.Time  `db:"submitted_at" json:"submitted_at,omitempty"`
	Score         *float64    `db:"score" json:"score,omitempty"`
	MaxPoints     float64     `db:"max_points" json:"max_points"`
	Answers       QuizAnswers `db:"answers" json:"answers,omitempty"`
	Results       QuizResults `db:"results" json:"results,omitempty"`
}

// IsSubmitted reports whether the attempt has been handed in.
func (a *QuizAttempt) IsSubmitted() bool {
	return a.SubmittedAt != nil
}

// StartedAttempt is returned to the student when an attempt begins.
type StartedAttempt struct {
	Attempt *QuizAttempt `json:"attempt"`
	Quiz    StudentQuiz  `json:"quiz"`
	Resumed bool         `json:"resumed"`
}

// AttemptResult is returned after an attempt is scored.
type AttemptResult struct {
	Attempt     *QuizAttempt `json:"attempt"`
	Score       float64      `json:"score"`
	MaxPoints   float64      `json:"max_points"`
	Percentage  float64      `json:"percentage"`
	LetterGrade string       `json:"letter_grade"`
	Results     QuizResults  `json:"results"`
	Grade       *Grade       `json:"grade,omitempty"`
}
