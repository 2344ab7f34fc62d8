package models

import (
	"database/sql/driver"
	"fmt"
	"sort"
	"time"
)

// CourseStatus is the lifecycle of a course offering.
type CourseStatus string

const (
	CourseStatusDraft     CourseStatus = "DRAFT"
	CourseStatusActive    CourseStatus = "ACTIVE"
	CourseStatusCompleted CourseStatus = "COMPLETED"
	CourseStatusCancelled CourseStatus = "CANCELLED"
)

// Valid reports whether s is a known course status.
func (s CourseStatus) Valid() bool {
	switch s {
	case CourseStatusDraft, CourseStatusActive, CourseStatusCompleted, CourseStatusCancelled:
		return true
	}
	return false
}

// Course is a course offering in a given semester.
type Course struct {
	ID           string       `db:"id" json:"id"`
	Code         string       `db:"code" json:"code"`
	Name         string       `db:"name" json:"name"`
	Description  *string      `db:"description" json:"description,omitempty"`
	Credits      int          `db:"credits" json:"credits"`
	Semester     string       `db:"semester" json:"semester"`
	Year         int          `db:"year" json:"year"`
	Schedule     *string      `db:"schedule" json:"schedule,omitempty"`
	Room         *string      `db:"room" json:"room,omitempty"`
	InstructorID string       `db:"instructor_id" json:"instructor_id"`
	Capacity     int          `db:"capacity" json:"capacity"`
	Status       CourseStatus `db:"status" json:"status"`
	StudyPlan    *StudyPlan   `db:"study_plan" json:"study_plan,omitempty"`
	CreatedBy    string       `db:"created_by" json:"created_by"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at" json:"updated_at"`
}

// CourseFilter narrows course listings.
type CourseFilter struct {
	Status       CourseStatus
	InstructorID string
	StudentID    string
	Semester     string
	Year         int
	Search       string
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// StudyPlanWeek is one entry of a course study plan.
type StudyPlanWeek struct {
	Week        int      `json:"week" validate:"required,min=1,max=60"`
	Title       string   `json:"title" validate:"required,max=255"`
	Description string   `json:"description,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	Assignments []string `json:"assignments,omitempty"`
	Readings    []string `json:"readings,omitempty"`
}

// StudyPlan is the ordered plan embedded in courses.study_plan.
type StudyPlan struct {
	Weeks []StudyPlanWeek `json:"weeks"`
}

// Normalize sorts weeks and rejects duplicates.
func (p *StudyPlan) Normalize() error {
	seen := make(map[int]struct{}, len(p.Weeks))
	for _, w := range p.Weeks {
		if w.Week < 1 {
			return fmt.Errorf("week numbers start at 1")
		}
		if _, dup := seen[w.Week]; dup {
			return fmt.Errorf("week %d listed twice", w.Week)
		}
		seen[w.Week] = struct{}{}
	}
	sort.Slice(p.Weeks, func(i, j int) bool { return p.Weeks[i].Week < p.Weeks[j].Week })
	return nil
}

// Upsert replaces or inserts a week keeping the order.
func (p *StudyPlan) Upsert(week StudyPlanWeek) {
	for i := range p.Weeks {
		if p.Weeks[i].Week == week.Week {
			p.Weeks[i] = week
			return
		}
	}
	p.Weeks = append(p.Weeks, week)
	sort.Slice(p.Weeks, func(i, j int) bool { return p.Weeks[i].Week < p.Weeks[j].Week })
}

// Value marshals the plan for persistence.
func (p StudyPlan) Value() (driver.Value, error) {
	if p.Weeks == nil {
		p.Weeks = []StudyPlanWeek{}
	}
	return valueJSON(p, "study plan")
}

// Scan unmarshals the JSONB column.
func (p *StudyPlan) Scan(value interface{}) error {
	*p = StudyPlan{}
	return scanJSON(value, p, "study plan")
}
