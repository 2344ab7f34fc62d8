package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
	"github.com/noah-isme/edu-manage-api/pkg/storage"
)

// sniffLen matches the prefix mimetype inspects.
const sniffLen = 3072

type fileRepository interface {
	Create(ctx context.Context, f *models.FileUpload) error
	FindByID(ctx context.Context, id string) (*models.FileUpload, error)
	Delete(ctx context.Context, id string) error
}

// FileServiceConfig limits what may be uploaded.
type FileServiceConfig struct {
	MaxSizeBytes int64
	AllowedMIMEs []string
	DownloadPath string
}

// UploadInput describes one multipart file.
type UploadInput struct {
	Name         string
	Size         int64
	Body         io.Reader
	CourseID     *string
	AssignmentID *string
}

// FileService stores uploads on the blob store and serves signed downloads.
type FileService struct {
	repo   fileRepository
	blobs  storage.BlobStore
	signer *storage.SignedURLSigner
	audit  auditRecorder
	cfg    FileServiceConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewFileService constructs the service.
func NewFileService(repo fileRepository, blobs storage.BlobStore, signer *storage.SignedURLSigner, audit auditRecorder, cfg FileServiceConfig, logger *zap.Logger) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = 10 * 1024 * 1024
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "/api/v1/files/download"
	}
	return &FileService{repo: repo, blobs: blobs, signer: signer, audit: audit, cfg: cfg, logger: logger, now: time.Now}
}

// Upload sniffs, stores and registers a file.
func (s *FileService) Upload(ctx context.Context, actor models.Actor, in UploadInput) (*models.FileUpload, error) {
	if in.Body == nil || strings.TrimSpace(in.Name) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if in.Size > s.cfg.MaxSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxSizeBytes))
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrBadRequest.Code, appErrors.ErrBadRequest.Status, "failed to read upload")
	}
	if n == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	if !s.allowed(detected) {
		return nil, appErrors.Clone(appErrors.ErrBadRequest, fmt.Sprintf("file type %s is not allowed", detected.String()))
	}

	now := s.now().UTC()
	storedName := uuid.NewString() + detected.Extension()
	relPath := path.Join(now.Format("2006/01"), storedName)

	body := io.MultiReader(bytes.NewReader(head), in.Body)
	written, err := s.blobs.SaveStream(relPath, io.LimitReader(body, s.cfg.MaxSizeBytes+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}
	if written > s.cfg.MaxSizeBytes {
		s.removeBlob(relPath)
		return nil, appErrors.Clone(appErrors.ErrBadRequest, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxSizeBytes))
	}

	file := &models.FileUpload{
		OriginalName: filepath.Base(strings.TrimSpace(in.Name)),
		StoredName:   storedName,
		Path:         relPath,
		MimeType:     detected.String(),
		SizeBytes:    written,
		UploadedBy:   actor.ID,
		CourseID:     in.CourseID,
		AssignmentID: in.AssignmentID,
		CreatedAt:    now,
	}
	if err := s.repo.Create(ctx, file); err != nil {
		s.removeBlob(relPath)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save file metadata")
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditEntry{Actor: actor, Action: models.AuditActionUpload, Resource: models.AuditResourceFile, ResourceID: file.ID, NewValues: file})
	}
	return file, nil
}

// Get returns metadata and a signed download URL. Students only see their own files.
func (s *FileService) Get(ctx context.Context, actor models.Actor, id string) (*models.FileDownload, error) {
	file, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleStudent && file.UploadedBy != actor.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to access this file")
	}
	token, expiresAt, err := s.signer.Generate(file.ID, file.Path)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return &models.FileDownload{File: file, URL: s.cfg.DownloadPath + "?token=" + token, ExpiresAt: expiresAt}, nil
}

// Open resolves a signed token to the stored blob. The caller closes the file.
func (s *FileService) Open(ctx context.Context, token string) (*models.FileUpload, *os.File, error) {
	parsed, err := s.signer.Parse(token, false)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	file, err := s.load(ctx, parsed.ResourceID)
	if err != nil {
		return nil, nil, err
	}
	if file.Path != parsed.Path {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	handle, err := s.blobs.Open(file.Path)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "file content missing")
	}
	return file, handle, nil
}

// Delete removes a file. Only the uploader or an admin may delete.
func (s *FileService) Delete(ctx context.Context, actor models.Actor, id string) error {
	file, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if file.UploadedBy != actor.ID && actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only the uploader or an admin can delete this file")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete file")
	}
	s.removeBlob(file.Path)
	if s.audit != nil {
		s.audit.Record(ctx, AuditEntry{Actor: actor, Action: models.AuditActionDelete, Resource: models.AuditResourceFile, ResourceID: id, OldValues: file})
	}
	return nil
}

func (s *FileService) allowed(detected *mimetype.MIME) bool {
	if len(s.cfg.AllowedMIMEs) == 0 {
		return true
	}
	for _, m := range s.cfg.AllowedMIMEs {
		if detected.Is(m) {
			return true
		}
	}
	return false
}

func (s *FileService) load(ctx context.Context, id string) (*models.FileUpload, error) {
	file, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file")
	}
	return file, nil
}

func (s *FileService) removeBlob(relPath string) {
	if err := s.blobs.Delete(relPath); err != nil {
		s.logger.Warn("failed to remove stored file", zap.String("path", relPath), zap.Error(err))
	}
}
