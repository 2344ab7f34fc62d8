package models

import (
	"database/sql/driver"
	"time"
)

// ReportType enumerates supported asynchronous report categories.
type ReportType string

const (
	ReportTypeGrades      ReportType = "grades"
	ReportTypeEnrollments ReportType = "enrollments"
	ReportTypeAudit       ReportType = "audit"
	ReportTypeGPA         ReportType = "gpa"
)

// Valid reports whether t is a supported report type.
func (t ReportType) Valid() bool {
	switch t {
	case ReportTypeGrades, ReportTypeEnrollments, ReportTypeAudit, ReportTypeGPA:
		return true
	}
	return false
}

// ReportStatus captures background job lifecycle states.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusFinished   ReportStatus = "FINISHED"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// ReportJob persisted background job metadata.
type ReportJob struct {
	ID           string          `db:"id" json:"id"`
	Type         ReportType      `db:"type" json:"type"`
	Format       string          `db:"format" json:"format"`
	Params       ReportJobParams `db:"params" json:"params"`
	Status       ReportStatus    `db:"status" json:"status"`
	Progress     int             `db:"progress" json:"progress"`
	ResultPath   *string         `db:"result_path" json:"-"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// ReportJobParams stores request-scoped options persisted as JSONB.
type ReportJobParams struct {
	CourseID *string `json:"course_id,omitempty"`
	Semester string  `json:"semester,omitempty"`
	Year     int     `json:"year,omitempty"`
	From     *string `json:"from,omitempty"`
	To       *string `json:"to,omitempty"`
}

// Value marshals params to JSON for persistence.
func (p ReportJobParams) Value() (driver.Value, error) {
	return valueJSON(p, "report job params")
}

// Scan unmarshals JSON payloads into the params struct.
func (p *ReportJobParams) Scan(value interface{}) error {
	*p = ReportJobParams{}
	return scanJSON(value, p, "report job params")
}

// ReportJobView is a job plus its download link once finished.
type ReportJobView struct {
	*ReportJob
	DownloadURL *string    `json:"download_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Overview is the admin dashboard summary.
type Overview struct {
	UsersByRole        map[UserRole]int     `json:"users_by_role"`
	CoursesByStatus    map[CourseStatus]int `json:"courses_by_status"`
	ActiveEnrollments  int                  `json:"active_enrollments"`
	PendingSubmissions int                  `json:"pending_submissions"`
	AverageGPA         float64              `json:"average_gpa"`
	GeneratedAt        time.Time            `json:"generated_at"`
}

// CountRow is a generic (key, count) aggregate row.
type CountRow struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

// GradeReportRow is one line of the grades export.
type GradeReportRow struct {
	StudentName  string    `db:"student_name"`
	StudentEmail string    `db:"student_email"`
	CourseCode   string    `db:"course_code"`
	ItemTitle    *string   `db:"item_title"`
	SourceKind   string    `db:"source_kind"`
	Score        float64   `db:"score"`
	MaxPoints    float64   `db:"max_points"`
	Percentage   float64   `db:"percentage"`
	LetterGrade  string    `db:"letter_grade"`
	GradedAt     time.Time `db:"created_at"`
}

// EnrollmentReportRow is one line of the enrollments export.
type EnrollmentReportRow struct {
	CourseCode   string    `db:"course_code"`
	CourseName   string    `db:"course_name"`
	StudentName  string    `db:"student_name"`
	StudentEmail string    `db:"student_email"`
	Status       string    `db:"status"`
	EnrolledAt   time.Time `db:"enrolled_at"`
}

// GPAReportRow is one line of the GPA export.
type GPAReportRow struct {
	StudentID     string   `db:"student_id"`
	StudentName   string   `db:"student_name"`
	StudentEmail  string   `db:"student_email"`
	StudentNumber *string  `db:"student_number"`
	GPA           *float64 `db:"gpa"`
}
