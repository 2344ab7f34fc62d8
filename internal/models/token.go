package models

import "time"

// RefreshToken is a persisted refresh session. Only the SHA-256 of the opaque token is stored.
type RefreshToken struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	TokenHash string    `db:"token_hash" json:"-"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Revoked   bool      `db:"revoked" json:"revoked"`
	IPAddress *string   `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent *string   `db:"user_agent" json:"user_agent,omitempty"`
}
