package models

import (
	"time"

	"github.com/lib/pq"
)

// AssignmentStatus tracks the assignment through submission and grading.
type AssignmentStatus string

const (
	AssignmentStatusAssigned  AssignmentStatus = "ASSIGNED"
	AssignmentStatusSubmitted AssignmentStatus = "SUBMITTED"
	AssignmentStatusGraded    AssignmentStatus = "GRADED"
)

// Assignment belongs to a course.
type Assignment struct {
	ID          string           `db:"id" json:"id"`
	CourseID    string           `db:"course_id" json:"course_id"`
	Title       string           `db:"title" json:"title"`
	Description *string          `db:"description" json:"description,omitempty"`
	DueDate     time.Time        `db:"due_date" json:"due_date"`
	MaxPoints   float64          `db:"max_points" json:"max_points"`
	Status      AssignmentStatus `db:"status" json:"status"`
	AllowLate   bool             `db:"allow_late" json:"allow_late"`
	CreatedBy   string           `db:"created_by" json:"created_by"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// IsOverdue is true once the due date passed without a submission.
func (a *Assignment) IsOverdue(submitted bool, now time.Time) bool {
	return !submitted && now.After(a.DueDate)
}

// AssignmentFilter narrows assignment listings.
type AssignmentFilter struct {
	CourseID string
	Status   AssignmentStatus
	DueAfter *time.Time
	Page     int
	PageSize int
}

// SubmissionStatus values.
const (
	SubmissionStatusSubmitted = "SUBMITTED"
	SubmissionStatusGraded    = "GRADED"
)

// Submission is the single hand-in of a student for an assignment.
type Submission struct {
	ID           string         `db:"id" json:"id"`
	AssignmentID string         `db:"assignment_id" json:"assignment_id"`
	StudentID    string         `db:"student_id" json:"student_id"`
	Content      *string        `db:"content" json:"content,omitempty"`
	FileIDs      pq.StringArray `db:"file_ids" json:"file_ids"`
	Status       string         `db:"status" json:"status"`
	IsLate       bool           `db:"is_late" json:"is_late"`
	SubmittedAt  time.Time      `db:"submitted_at" json:"submitted_at"`
}

// IsGraded reports whether the submission has a grade.
func (s Submission) IsGraded() bool {
	return s.Status == SubmissionStatusGraded
}

// SubmissionDetail adds the student name and grade summary for teacher views.
type SubmissionDetail struct {
	Submission
	StudentName string   `db:"student_name" json:"student_name"`
	GradeID     *string  `db:"grade_id" json:"grade_id,omitempty"`
	Percentage  *float64 `db:"percentage" json:"percentage,omitempty"`
	LetterGrade *string  `db:"letter_grade" json:"letter_grade,omitempty"`
}
