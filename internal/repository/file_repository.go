package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/edu-manage-api/internal/models"
)

const fileColumns = `id, original_name, stored_name, path, mime_type, size_bytes, uploaded_by, course_id, assignment_id, created_at`

// FileRepository stores upload metadata.
type FileRepository struct {
	db *sqlx.DB
}

// NewFileRepository creates the repository.
func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Create inserts the metadata row.
func (r *FileRepository) Create(ctx context.Context, f *models.FileUpload) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO file_uploads (` + fileColumns + `) VALUES (:id, :original_name, :stored_name, :path, :mime_type, :size_bytes, :uploaded_by, :course_id, :assignment_id, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, f); err != nil {
		return fmt.Errorf("create file upload: %w", err)
	}
	return nil
}

// FindByID returns upload metadata.
func (r *FileRepository) FindByID(ctx context.Context, id string) (*models.FileUpload, error) {
	var f models.FileUpload
	if err := r.db.GetContext(ctx, &f, `SELECT `+fileColumns+` FROM file_uploads WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find file upload: %w", err)
	}
	return &f, nil
}

// CountOwned counts how many of ids were uploaded by the user.
func (r *FileRepository) CountOwned(ctx context.Context, ids []string, userID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM file_uploads WHERE id = ANY($1) AND uploaded_by = $2`, pq.Array(ids), userID); err != nil {
		return 0, fmt.Errorf("count owned files: %w", err)
	}
	return total, nil
}

// Delete removes the metadata row.
func (r *FileRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM file_uploads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file upload: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
