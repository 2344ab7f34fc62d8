package service

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/pkg/export"
)

// auditExportLimit caps the audit dataset so a runaway export cannot exhaust memory.
const auditExportLimit = 10000

const auditPageSize = 100

type reportDataSource interface {
	GradeRows(ctx context.Context, params models.ReportJobParams) ([]models.GradeReportRow, error)
	EnrollmentRows(ctx context.Context, params models.ReportJobParams) ([]models.EnrollmentReportRow, error)
	GPARows(ctx context.Context) ([]models.GPAReportRow, error)
}

type auditLister interface {
	List(ctx context.Context, filter models.AuditLogFilter) ([]models.AuditLog, int, error)
}

type reportFileStore interface {
	Save(name string, data []byte) error
	Open(name string) (*os.File, error)
	Delete(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Rows         int
	ContentType  string
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	data    reportDataSource
	audit   auditLister
	storage reportFileStore
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(data reportDataSource, audit auditLister, storage reportFileStore, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{data: data, audit: audit, storage: storage, logger: logger, now: time.Now}
}

// Generate builds the dataset for job, renders it and stores the file.
// progress, when set, receives intermediate percentages.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob, progress func(int)) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	if progress == nil {
		progress = func(int) {}
	}
	exporter, err := export.ForFormat(job.Format)
	if err != nil {
		return nil, err
	}
	dataset, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}
	progress(50)

	payload, err := exporter.Render(dataset)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", job.Format, err)
	}
	progress(80)

	relPath := path.Join("reports", s.buildFilename(job, exporter.Extension()))
	if err := s.storage.Save(relPath, payload); err != nil {
		return nil, err
	}
	s.logger.Debug("report rendered", zap.String("job_id", job.ID), zap.String("path", relPath), zap.Int("rows", len(dataset.Rows)))
	return &ExportResult{RelativePath: relPath, Rows: len(dataset.Rows), ContentType: exporter.ContentType()}, nil
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl.
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob, ext string) string {
	parts := []string{string(job.Type)}
	if job.Params.Semester != "" {
		parts = append(parts, job.Params.Semester)
	}
	if job.Params.Year > 0 {
		parts = append(parts, strconv.Itoa(job.Params.Year))
	}
	parts = append(parts, s.now().UTC().Format("20060102-150405"), shortID(job.ID))
	return slug.Make(strings.Join(parts, " ")) + "." + ext
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, error) {
	switch job.Type {
	case models.ReportTypeGrades:
		return s.buildGradeDataset(ctx, job.Params)
	case models.ReportTypeEnrollments:
		return s.buildEnrollmentDataset(ctx, job.Params)
	case models.ReportTypeAudit:
		return s.buildAuditDataset(ctx, job.Params)
	case models.ReportTypeGPA:
		return s.buildGPADataset(ctx)
	default:
		return export.Dataset{}, fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildGradeDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	rows, err := s.data.GradeRows(ctx, params)
	if err != nil {
		return export.Dataset{}, err
	}
	headers := []string{"Student", "Email", "Course", "Item", "Source", "Score", "Max Points", "Percentage", "Letter", "Graded At"}
	data := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		data = append(data, map[string]string{
			"Student":    row.StudentName,
			"Email":      row.StudentEmail,
			"Course":     row.CourseCode,
			"Item":       deref(row.ItemTitle),
			"Source":     row.SourceKind,
			"Score":      formatFloat(row.Score),
			"Max Points": formatFloat(row.MaxPoints),
			"Percentage": formatFloat(row.Percentage),
			"Letter":     row.LetterGrade,
			"Graded At":  row.GradedAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Title: "Grades " + termLabel(params), Headers: headers, Rows: data}, nil
}

func (s *ExportService) buildEnrollmentDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	rows, err := s.data.EnrollmentRows(ctx, params)
	if err != nil {
		return export.Dataset{}, err
	}
	headers := []string{"Course", "Course Name", "Student", "Email", "Status", "Enrolled At"}
	data := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		data = append(data, map[string]string{
			"Course":      row.CourseCode,
			"Course Name": row.CourseName,
			"Student":     row.StudentName,
			"Email":       row.StudentEmail,
			"Status":      row.Status,
			"Enrolled At": row.EnrolledAt.UTC().Format(time.RFC3339),
		})
	}
	return export.Dataset{Title: "Enrollments " + termLabel(params), Headers: headers, Rows: data}, nil
}

func (s *ExportService) buildAuditDataset(ctx context.Context, params models.ReportJobParams) (export.Dataset, error) {
	filter := models.AuditLogFilter{PageSize: auditPageSize}
	if params.From != nil {
		if from, err := time.Parse(reportDateLayout, *params.From); err == nil {
			filter.From = &from
		}
	}
	if params.To != nil {
		if to, err := time.Parse(reportDateLayout, *params.To); err == nil {
			end := to.Add(24*time.Hour - time.Nanosecond)
			filter.To = &end
		}
	}

	headers := []string{"Time", "User", "Action", "Resource", "Resource ID", "IP"}
	data := make([]map[string]string, 0)
	for page := 1; len(data) < auditExportLimit; page++ {
		filter.Page = page
		logs, total, err := s.audit.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, err
		}
		for _, entry := range logs {
			data = append(data, map[string]string{
				"Time":        entry.CreatedAt.UTC().Format(time.RFC3339),
				"User":        deref(entry.UserID),
				"Action":      entry.Action,
				"Resource":    entry.Resource,
				"Resource ID": deref(entry.ResourceID),
				"IP":          deref(entry.IPAddress),
			})
		}
		if len(logs) < auditPageSize || len(data) >= total {
			break
		}
	}
	if len(data) > auditExportLimit {
		data = data[:auditExportLimit]
	}
	return export.Dataset{Title: "Audit Log", Headers: headers, Rows: data}, nil
}

func (s *ExportService) buildGPADataset(ctx context.Context) (export.Dataset, error) {
	rows, err := s.data.GPARows(ctx)
	if err != nil {
		return export.Dataset{}, err
	}
	headers := []string{"Student ID", "Student", "Email", "Student Number", "GPA"}
	data := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		gpa := ""
		if row.GPA != nil {
			gpa = formatFloat(*row.GPA)
		}
		data = append(data, map[string]string{
			"Student ID":     row.StudentID,
			"Student":        row.StudentName,
			"Email":          row.StudentEmail,
			"Student Number": deref(row.StudentNumber),
			"GPA":            gpa,
		})
	}
	return export.Dataset{Title: "Student GPA", Headers: headers, Rows: data}, nil
}

func termLabel(params models.ReportJobParams) string {
	label := strings.TrimSpace(fmt.Sprintf("%s %s", params.Semester, yearLabel(params.Year)))
	if label == "" {
		return "(all terms)"
	}
	return label
}

func yearLabel(year int) string {
	if year <= 0 {
		return ""
	}
	return strconv.Itoa(year)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
