package models

import "time"

// GradeSourceKind discriminates how a grade was produced.
type GradeSourceKind string

const (
	GradeSourceManual GradeSourceKind = "MANUAL"
	GradeSourceQuiz   GradeSourceKind = "QUIZ"
)

// Grade ties a score to a student in a course, sourced from a submission or a quiz attempt.
type Grade struct {
	ID            string          `db:"id" json:"id"`
	StudentID     string          `db:"student_id" json:"student_id"`
	CourseID      string          `db:"course_id" json:"course_id"`
	AssignmentID  *string         `db:"assignment_id" json:"assignment_id,omitempty"`
	SubmissionID  *string         `db:"submission_id" json:"submission_id,omitempty"`
	QuizID        *string         `db:"quiz_id" json:"quiz_id,omitempty"`
	QuizAttemptID *string         `db:"quiz_attempt_id" json:"quiz_attempt_id,omitempty"`
	SourceKind    GradeSourceKind `db:"source_kind" json:"source_kind"`
	Score         float64         `db:"score" json:"score"`
	MaxPoints     float64         `db:"max_points" json:"max_points"`
	Percentage    float64         `db:"percentage" json:"percentage"`
	LetterGrade   string          `db:"letter_grade" json:"letter_grade"`
	Weight        float64         `db:"weight" json:"weight"`
	IsExtraCredit bool            `db:"is_extra_credit" json:"is_extra_credit"`
	Feedback      *string         `db:"feedback" json:"feedback,omitempty"`
	GradedBy      *string         `db:"graded_by" json:"graded_by,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// GradeSource is the tagged view of where a grade came from.
type GradeSource struct {
	Kind      GradeSourceKind `json:"kind"`
	AttemptID *string         `json:"attempt_id,omitempty"`
}

// Source returns the tagged source of the grade.
func (g *Grade) Source() GradeSource {
	if g.SourceKind == GradeSourceQuiz {
		return GradeSource{Kind: GradeSourceQuiz, AttemptID: g.QuizAttemptID}
	}
	return GradeSource{Kind: GradeSourceManual}
}

// GradeDetail adds course info for transcript style listings.
type GradeDetail struct {
	Grade
	CourseCode string  `db:"course_code" json:"course_code"`
	CourseName string  `db:"course_name" json:"course_name"`
	Semester   string  `db:"semester" json:"semester"`
	Year       int     `db:"year" json:"year"`
	ItemTitle  *string `db:"item_title" json:"item_title,omitempty"`
}

// GradeFilter narrows grade queries. Semester and Year match the course term.
type GradeFilter struct {
	StudentID string
	CourseID  string
	Semester  string
	Year      int
}

// GPAResult is the response of a GPA calculation.
type GPAResult struct {
	StudentID  string  `json:"student_id"`
	GPA        float64 `json:"gpa"`
	GradeCount int     `json:"grade_count"`
	Semester   string  `json:"semester,omitempty"`
	Year       int     `json:"year,omitempty"`
}
