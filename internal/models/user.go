package models

import (
	"strings"
	"time"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleStudent           UserRole = "STUDENT"
	RoleTeacher           UserRole = "TEACHER"
	RoleSupervisorTeacher UserRole = "SUPERVISOR_TEACHER"
	RoleAdmin             UserRole = "ADMIN"
)

// AllRoles lists every role in ascending privilege.
var AllRoles = []UserRole{RoleStudent, RoleTeacher, RoleSupervisorTeacher, RoleAdmin}

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	for _, role := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// IsStaff is true for every non-student role.
func (r UserRole) IsStaff() bool {
	return r == RoleTeacher || r == RoleSupervisorTeacher || r == RoleAdmin
}

// ParseRole accepts role names case-insensitively.
func ParseRole(raw string) (UserRole, bool) {
	role := UserRole(strings.ToUpper(strings.TrimSpace(raw)))
	return role, role.Valid()
}

// IsAllowed reports whether role satisfies the allow-list. An empty list allows any known role.
func IsAllowed(role UserRole, required ...UserRole) bool {
	if !role.Valid() {
		return false
	}
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if r == role {
			return true
		}
	}
	return false
}

// CanCreateRole is the user-creation permission matrix.
func CanCreateRole(creator, target UserRole) bool {
	switch target {
	case RoleStudent, RoleTeacher:
		return creator == RoleSupervisorTeacher || creator == RoleAdmin
	case RoleSupervisorTeacher, RoleAdmin:
		return creator == RoleAdmin
	default:
		return false
	}
}

// User represents an application user joined with its profile.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	Role         UserRole   `db:"role" json:"role"`
	IsSupervisor bool       `db:"is_supervisor" json:"is_supervisor"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	Profile      Profile    `db:"profile" json:"profile"`
}

// FullName joins the profile names.
func (u *User) FullName() string {
	return strings.TrimSpace(u.Profile.FirstName + " " + u.Profile.LastName)
}

// HasSupervisorRights covers supervisors, flagged teachers and admins.
func (u *User) HasSupervisorRights() bool {
	return u.Role == RoleSupervisorTeacher || u.Role == RoleAdmin || u.IsSupervisor
}

// Profile holds the 1:1 personal data of a user.
type Profile struct {
	UserID         string    `db:"user_id" json:"-"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	Department     *string   `db:"department" json:"department,omitempty"`
	Major          *string   `db:"major" json:"major,omitempty"`
	StudentNumber  *string   `db:"student_number" json:"student_number,omitempty"`
	EmployeeNumber *string   `db:"employee_number" json:"employee_number,omitempty"`
	Phone          *string   `db:"phone" json:"phone,omitempty"`
	YearLevel      *int      `db:"year_level" json:"year_level,omitempty"`
	GPA            *float64  `db:"gpa" json:"gpa,omitempty"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NormalizePage applies the shared page defaults (page 1, size 20, max 100).
func NormalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
