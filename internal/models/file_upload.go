package models

import "time"

// FileUpload is the metadata row of a stored blob.
type FileUpload struct {
	ID           string    `db:"id" json:"id"`
	OriginalName string    `db:"original_name" json:"original_name"`
	StoredName   string    `db:"stored_name" json:"stored_name"`
	Path         string    `db:"path" json:"-"`
	MimeType     string    `db:"mime_type" json:"mime_type"`
	SizeBytes    int64     `db:"size_bytes" json:"size_bytes"`
	UploadedBy   string    `db:"uploaded_by" json:"uploaded_by"`
	CourseID     *string   `db:"course_id" json:"course_id,omitempty"`
	AssignmentID *string   `db:"assignment_id" json:"assignment_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// FileDownload couples metadata with a signed URL.
type FileDownload struct {
	File      *FileUpload `json:"file"`
	URL       string      `json:"url"`
	ExpiresAt time.Time   `json:"expires_at"`
}
