package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new access token.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// RefreshTokenResponse returns the refreshed tokens.
type RefreshTokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,nefield=OldPassword"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"`
	FullName     string   `json:"full_name"`
	Role         UserRole `json:"role"`
	IsSupervisor bool     `json:"is_supervisor"`
}

// NewUserInfo projects a user into its public summary.
func NewUserInfo(u *User) UserInfo {
	return UserInfo{ID: u.ID, Email: u.Email, FullName: u.FullName(), Role: u.Role, IsSupervisor: u.IsSupervisor}
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	// Supervisor mirrors users.is_supervisor for teachers granted supervisor rights.
	Supervisor bool `json:"supervisor,omitempty"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	ID           string
	Role         UserRole
	IsSupervisor bool
	IP           string
	UserAgent    string
}

// HasSupervisorRights covers supervisors, flagged teachers and admins.
func (a Actor) HasSupervisorRights() bool {
	return a.Role == RoleSupervisorTeacher || a.Role == RoleAdmin || a.IsSupervisor
}

// ActorFromClaims builds an Actor from validated token claims.
func ActorFromClaims(claims *JWTClaims, ip, userAgent string) Actor {
	if claims == nil {
		return Actor{IP: ip, UserAgent: userAgent}
	}
	return Actor{ID: claims.UserID, Role: claims.Role, IsSupervisor: claims.Supervisor, IP: ip, UserAgent: userAgent}
}
