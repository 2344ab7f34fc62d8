package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// NotificationType categorises notifications.
type NotificationType string

const (
	NotificationTypeAnnouncement NotificationType = "ANNOUNCEMENT"
	NotificationTypeAssignment   NotificationType = "ASSIGNMENT"
	NotificationTypeGrade        NotificationType = "GRADE"
	NotificationTypeQuiz         NotificationType = "QUIZ"
	NotificationTypeEnrollment   NotificationType = "ENROLLMENT"
	NotificationTypeSystem       NotificationType = "SYSTEM"
)

// NotificationPriority orders notifications for display.
type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "LOW"
	NotificationPriorityMedium NotificationPriority = "MEDIUM"
	NotificationPriorityHigh   NotificationPriority = "HIGH"
	NotificationPriorityUrgent NotificationPriority = "URGENT"
)

// Notification is a persisted message addressed to one user.
type Notification struct {
	ID           string               `db:"id" json:"id"`
	UserID       string               `db:"user_id" json:"user_id"`
	Title        string               `db:"title" json:"title"`
	Message      string               `db:"message" json:"message"`
	Type         NotificationType     `db:"type" json:"type"`
	Priority     NotificationPriority `db:"priority" json:"priority"`
	IsRead       bool                 `db:"is_read" json:"is_read"`
	ReadAt       *time.Time           `db:"read_at" json:"read_at,omitempty"`
	CourseID     *string              `db:"course_id" json:"course_id,omitempty"`
	AssignmentID *string              `db:"assignment_id" json:"assignment_id,omitempty"`
	GradeID      *string              `db:"grade_id" json:"grade_id,omitempty"`
	Metadata     types.NullJSONText   `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time            `db:"created_at" json:"created_at"`
}

// NotificationFilter narrows the owner's inbox.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Type       NotificationType
	Page       int
	PageSize   int
}

// DeliveryStatus is the outcome of one recipient in a fan-out.
type DeliveryStatus string

const (
	// DeliveryDelivered means the row was stored and at least one live socket received it.
	DeliveryDelivered DeliveryStatus = "delivered"
	// DeliveryOffline means the row was stored but the user had no live socket.
	DeliveryOffline DeliveryStatus = "offline"
	// DeliveryFailed means the row could not be stored.
	DeliveryFailed DeliveryStatus = "failed"
)

// RecipientOutcome reports the delivery result for one user.
type RecipientOutcome struct {
	UserID         string         `json:"user_id"`
	NotificationID string         `json:"notification_id,omitempty"`
	Status         DeliveryStatus `json:"status"`
	Error          string         `json:"error,omitempty"`
}

// FanoutResult summarises a multi-recipient send.
type FanoutResult struct {
	Total     int                `json:"total"`
	Delivered int                `json:"delivered"`
	Offline   int                `json:"offline"`
	Failed    int                `json:"failed"`
	Outcomes  []RecipientOutcome `json:"outcomes"`
}

// Add records one outcome and updates the counters.
func (r *FanoutResult) Add(o RecipientOutcome) {
	r.Total++
	switch o.Status {
	case DeliveryDelivered:
		r.Delivered++
	case DeliveryOffline:
		r.Offline++
	case DeliveryFailed:
		r.Failed++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// NotificationRequest is the payload of a send.
type NotificationRequest struct {
	Title        string                 `json:"title" validate:"required,max=255"`
	Message      string                 `json:"message" validate:"required"`
	Type         NotificationType       `json:"type" validate:"required,oneof=ANNOUNCEMENT ASSIGNMENT GRADE QUIZ ENROLLMENT SYSTEM"`
	Priority     NotificationPriority   `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	CourseID     *string                `json:"course_id,omitempty"`
	AssignmentID *string                `json:"assignment_id,omitempty"`
	GradeID      *string                `json:"grade_id,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// SendResult is the outcome of a single-user send.
type SendResult struct {
	Notification *Notification   `json:"notification,omitempty"`
	Outcome      RecipientOutcome `json:"outcome"`
}
