package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/repository"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
	"github.com/noah-isme/edu-manage-api/pkg/jobs"
	"github.com/noah-isme/edu-manage-api/pkg/storage"
)

const reportDateLayout = "2006-01-02"

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error)
	ClearResult(ctx context.Context, id string) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type reportFiles interface {
	Generate(ctx context.Context, job *models.ReportJob, progress func(int)) (*ExportResult, error)
	Open(relPath string) (*os.File, error)
	Delete(relPath string) error
	Cleanup(ttl time.Duration) ([]string, error)
}

type reportMetrics interface {
	RecordReportJob(reportType models.ReportType, status models.ReportStatus, duration time.Duration)
}

type userStats interface {
	CountByRole(ctx context.Context) ([]models.CountRow, error)
	AverageStudentGPA(ctx context.Context) (float64, error)
}

type courseStats interface {
	CountByStatus(ctx context.Context) ([]models.CountRow, error)
}

type enrollmentStats interface {
	CountActive(ctx context.Context) (int, error)
}

type submissionStats interface {
	CountPending(ctx context.Context) (int, error)
}

// ReportStats groups the aggregate sources behind the admin overview.
type ReportStats struct {
	Users       userStats
	Courses     courseStats
	Enrollments enrollmentStats
	Submissions submissionStats
}

// ReportServiceConfig governs caching, signed links and cleanup.
type ReportServiceConfig struct {
	OverviewTTL     time.Duration
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	DownloadPath    string
}

// ExportReportRequest is the payload of POST /reports/export.
type ExportReportRequest struct {
	Type     models.ReportType `json:"type" validate:"required"`
	Format   string            `json:"format" validate:"required,oneof=csv pdf xlsx"`
	CourseID *string           `json:"course_id" validate:"omitempty,uuid"`
	Semester string            `json:"semester" validate:"omitempty,max=20"`
	Year     int               `json:"year" validate:"omitempty,gte=2000,lte=2100"`
	From     *string           `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To       *string           `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

// ReportDownload aggregates resolved download data.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    string
	ExpiresAt time.Time
}

// ReportService serves the admin overview and orchestrates export jobs.
type ReportService struct {
	repo      reportJobStore
	stats     ReportStats
	queue     jobDispatcher
	files     reportFiles
	signer    *storage.SignedURLSigner
	cache     *CacheService
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ReportServiceConfig
	now       func() time.Time
}

// NewReportService constructs the report service.
func NewReportService(repo reportJobStore, stats ReportStats, queue jobDispatcher, files reportFiles, signer *storage.SignedURLSigner, cache *CacheService, audit auditRecorder, validate *validator.Validate, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.OverviewTTL <= 0 {
		cfg.OverviewTTL = 5 * time.Minute
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/v1/reports/download"
	}
	return &ReportService{
		repo:      repo,
		stats:     stats,
		queue:     queue,
		files:     files,
		signer:    signer,
		cache:     cache,
		audit:     audit,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Overview returns the dashboard aggregates, served from cache when possible.
func (s *ReportService) Overview(ctx context.Context) (*models.Overview, error) {
	var cached models.Overview
	if hit, err := s.cache.Get(ctx, reportOverviewKey, &cached); err == nil && hit {
		return &cached, nil
	}

	byRole, err := s.stats.Users.CountByRole(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count users")
	}
	byStatus, err := s.stats.Courses.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count courses")
	}
	active, err := s.stats.Enrollments.CountActive(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollments")
	}
	pending, err := s.stats.Submissions.CountPending(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count submissions")
	}
	avg, err := s.stats.Users.AverageStudentGPA(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to average gpa")
	}

	overview := &models.Overview{
		UsersByRole:        map[models.UserRole]int{},
		CoursesByStatus:    map[models.CourseStatus]int{},
		ActiveEnrollments:  active,
		PendingSubmissions: pending,
		AverageGPA:         roundTwo(avg),
		GeneratedAt:        s.now().UTC(),
	}
	for _, row := range byRole {
		overview.UsersByRole[models.UserRole(row.Key)] = row.Count
	}
	for _, row := range byStatus {
		overview.CoursesByStatus[models.CourseStatus(row.Key)] = row.Count
	}

	if err := s.cache.Set(ctx, reportOverviewKey, overview, s.cfg.OverviewTTL); err != nil {
		s.logger.Warn("failed to cache report overview", zap.Error(err))
	}
	return overview, nil
}

// CreateJob validates the request, persists a job row and enqueues it.
func (s *ReportService) CreateJob(ctx context.Context, actor models.Actor, req ExportReportRequest) (*models.ReportJob, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report request")
	}
	req.Type = models.ReportType(strings.ToLower(string(req.Type)))
	if !req.Type.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	}
	if req.From != nil && req.To != nil && *req.From > *req.To {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from must not be after to")
	}

	job := &models.ReportJob{
		Type:   req.Type,
		Format: strings.ToLower(req.Format),
		Params: models.ReportJobParams{
			CourseID: req.CourseID,
			Semester: strings.ToUpper(strings.TrimSpace(req.Semester)),
			Year:     req.Year,
			From:     req.From,
			To:       req.To,
		},
		Status:    models.ReportStatusQueued,
		CreatedBy: actor.ID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		status := models.ReportStatusFailed
		msg := "failed to enqueue job"
		now := s.now().UTC()
		progress := 100
		if updateErr := s.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
			Status:       &status,
			Progress:     &progress,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); updateErr != nil {
			s.logger.Warn("failed to mark unqueued job failed", zap.String("job_id", job.ID), zap.Error(updateErr))
		}
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, appErrors.ErrUnavailable.Status, "report queue is full")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditEntry{Actor: actor, Action: models.AuditActionExport, Resource: models.AuditResourceReport, ResourceID: job.ID, NewValues: job})
	}
	return job, nil
}

// GetJob returns job status plus a signed download link once finished.
// Admins see every job; other callers only their own.
func (s *ReportService) GetJob(ctx context.Context, actor models.Actor, id string) (*models.ReportJobView, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && job.CreatedBy != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to view this report")
	}
	view := &models.ReportJobView{ReportJob: job}
	if job.Status == models.ReportStatusFinished && job.ResultPath != nil {
		token, expiresAt, err := s.signer.Generate(job.ID, *job.ResultPath)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
		}
		url := s.cfg.DownloadPath + "?token=" + token
		view.DownloadURL = &url
		view.ExpiresAt = &expiresAt
	}
	return view, nil
}

// ResolveDownload validates token and opens the stored export file.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	parsed, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	job, err := s.load(ctx, parsed.ResourceID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ReportStatusFinished || job.ResultPath == nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	}
	if *job.ResultPath != parsed.Path {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.files.Open(parsed.Path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "report file missing")
	}
	return &ReportDownload{
		File:      file,
		Filename:  path.Base(parsed.Path),
		Format:    job.Format,
		ExpiresAt: parsed.ExpiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs after a restart.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to recover queued report jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue pending job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("requeued pending report jobs", zap.Int("count", len(pending)))
	}
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired(ctx)
			}
		}
	}()
}

// CleanupExpired deletes result files of jobs finished before the retention
// window and sweeps orphaned files from the report directory.
func (s *ReportService) CleanupExpired(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.ResultTTL)
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, 100)
		if err != nil {
			s.logger.Warn("cleanup list failed", zap.Error(err))
			return
		}
		cleared := 0
		for _, job := range expired {
			if job.ResultPath == nil {
				continue
			}
			if err := s.files.Delete(*job.ResultPath); err != nil {
				s.logger.Warn("cleanup delete failed", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			if err := s.repo.ClearResult(ctx, job.ID); err != nil {
				s.logger.Warn("cleanup clear failed", zap.String("job_id", job.ID), zap.Error(err))
				continue
			}
			cleared++
		}
		if len(expired) < 100 || cleared == 0 {
			break
		}
	}
	if _, err := s.files.Cleanup(s.cfg.ResultTTL); err != nil {
		s.logger.Warn("filesystem cleanup failed", zap.Error(err))
	}
}

func (s *ReportService) load(ctx context.Context, id string) (*models.ReportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "report job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	return job, nil
}

// ReportWorker bridges queue jobs to the export pipeline.
type ReportWorker struct {
	repo    reportJobStore
	files   reportFiles
	metrics reportMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewReportWorker constructs a worker.
func NewReportWorker(repo reportJobStore, files reportFiles, metrics reportMetrics, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportWorker{repo: repo, files: files, metrics: metrics, logger: logger, now: time.Now}
}

// Handle processes a queue job. A failed attempt puts the job back to
// QUEUED; the queue's failure hook marks it FAILED once retries run out.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	started := w.now()
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.ReportStatusProcessing
	progress := 10
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:   &processing,
		Progress: &progress,
	}); err != nil {
		return err
	}

	result, err := w.files.Generate(ctx, record, func(p int) {
		if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{Progress: &p}); updateErr != nil {
			w.logger.Debug("failed to record report progress", zap.String("job_id", job.ID), zap.Error(updateErr))
		}
	})
	if err != nil {
		queued := models.ReportStatusQueued
		reset := 0
		msg := err.Error()
		if updateErr := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
			Status:       &queued,
			Progress:     &reset,
			ErrorMessage: &msg,
		}); updateErr != nil {
			w.logger.Warn("failed to mark job queued", zap.String("job_id", job.ID), zap.Error(updateErr))
		}
		return err
	}

	finished := models.ReportStatusFinished
	progress = 100
	now := w.now().UTC()
	resultPath := result.RelativePath
	clear := ""
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:       &finished,
		Progress:     &progress,
		ResultPath:   &resultPath,
		ErrorMessage: &clear,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark job finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	if w.metrics != nil {
		w.metrics.RecordReportJob(record.Type, finished, w.now().Sub(started))
	}
	w.logger.Info("report job finished", zap.String("job_id", job.ID), zap.String("type", string(record.Type)), zap.Int("rows", result.Rows))
	return nil
}

// Fail marks a job FAILED after the queue gave up on it.
func (w *ReportWorker) Fail(ctx context.Context, job jobs.Job, cause error) {
	failed := models.ReportStatusFailed
	progress := 100
	now := w.now().UTC()
	msg := cause.Error()
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:       &failed,
		Progress:     &progress,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	if w.metrics != nil {
		w.metrics.RecordReportJob(models.ReportType(job.Type), failed, 0)
	}
}
