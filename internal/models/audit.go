package models

import (
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionCreate         = "CREATE"
	AuditActionUpdate         = "UPDATE"
	AuditActionDelete         = "DELETE"
	AuditActionDeactivate     = "DEACTIVATE"
	AuditActionEnroll         = "ENROLL"
	AuditActionBulkEnroll     = "BULK_ENROLL"
	AuditActionDrop           = "DROP"
	AuditActionSubmit         = "SUBMIT"
	AuditActionGrade          = "GRADE"
	AuditActionUpload         = "UPLOAD"
	AuditActionExport         = "EXPORT"
	AuditActionNotify         = "NOTIFY"
)

// Audited resource names.
const (
	AuditResourceUser         = "user"
	AuditResourceCourse       = "course"
	AuditResourceEnrollment   = "enrollment"
	AuditResourceAssignment   = "assignment"
	AuditResourceSubmission   = "submission"
	AuditResourceQuiz         = "quiz"
	AuditResourceGrade        = "grade"
	AuditResourceFile         = "file"
	AuditResourceReport       = "report"
	AuditResourceNotification = "notification"
)

// AuditLog represents an append-only audit trail record.
type AuditLog struct {
	ID         string             `db:"id" json:"id"`
	UserID     *string            `db:"user_id" json:"user_id,omitempty"`
	Action     string             `db:"action" json:"action"`
	Resource   string             `db:"resource" json:"resource"`
	ResourceID *string            `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  types.NullJSONText `db:"old_values" json:"old_values"`
	NewValues  types.NullJSONText `db:"new_values" json:"new_values"`
	IPAddress  *string            `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent  *string            `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
}

// AuditLogFilter narrows audit queries.
type AuditLogFilter struct {
	UserID     string
	Action     string
	Resource   string
	ResourceID string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// Snapshot encodes v as an audit JSON value. Nil or unencodable values become NULL.
func Snapshot(v interface{}) types.NullJSONText {
	if v == nil {
		return types.NullJSONText{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return types.NullJSONText{}
	}
	return types.NullJSONText{JSONText: types.JSONText(data), Valid: true}
}
