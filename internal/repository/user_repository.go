package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/edu-manage-api/internal/models"
)

const userColumns = `u.id, u.email, u.password_hash, u.role, u.is_supervisor, u.is_active, u.last_login, u.created_at, u.updated_at,
	p.user_id AS "profile.user_id", p.first_name AS "profile.first_name", p.last_name AS "profile.last_name",
	p.department AS "profile.department", p.major AS "profile.major", p.student_number AS "profile.student_number",
	p.employee_number AS "profile.employee_number", p.phone AS "profile.phone", p.year_level AS "profile.year_level",
	p.gpa AS "profile.gpa", p.updated_at AS "profile.updated_at"`

const userFrom = ` FROM users u JOIN profiles p ON p.user_id = u.id`

// UserRepository provides database access for users, their profiles and refresh sessions.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + userFrom + ` WHERE u.email = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, strings.ToLower(email)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + userFrom + ` WHERE u.id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByIDs loads every user whose id is listed. Unknown ids are simply absent.
func (r *UserRepository) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	query := `SELECT ` + userColumns + userFrom + ` WHERE u.id = ANY($1)`
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find users by ids: %w", err)
	}
	return users, nil
}

// ListActiveIDsByRole returns the ids of every active user holding role.
func (r *UserRepository) ListActiveIDsByRole(ctx context.Context, role models.UserRole) ([]string, error) {
	const query = `SELECT id FROM users WHERE role = $1 AND is_active = TRUE ORDER BY created_at`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, role); err != nil {
		return nil, fmt.Errorf("list user ids by role: %w", err)
	}
	return ids, nil
}

// List returns users based on filters with total count.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	var where whereBuilder
	if filter.Role != nil {
		where.add("u.role = %s", *filter.Role)
	}
	if filter.Active != nil {
		where.add("u.is_active = %s", *filter.Active)
	}
	if filter.Search != "" {
		where.add("(LOWER(u.email) LIKE %s OR LOWER(p.first_name || ' ' || p.last_name) LIKE %s)", "%"+strings.ToLower(filter.Search)+"%")
	}

	baseQuery := userFrom + ` WHERE 1=1` + where.sql()
	order := sortClause(filter.SortBy, filter.SortOrder, map[string]string{
		"email":      "u.email",
		"created_at": "u.created_at",
		"updated_at": "u.updated_at",
		"last_name":  "p.last_name",
	}, "u.created_at")
	limit, offset := pageWindow(filter.Page, filter.PageSize)

	listQuery := fmt.Sprintf("SELECT %s%s ORDER BY %s LIMIT %d OFFSET %d", userColumns, baseQuery, order, limit, offset)
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, listQuery, where.args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*)"+baseQuery, where.args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	return users, total, nil
}

// Create inserts the user and its profile in one transaction.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	user.Profile.UserID = user.ID
	user.Profile.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create user: %w", err)
	}

	const userQuery = `INSERT INTO users (id, email, password_hash, role, is_supervisor, is_active, created_at, updated_at) VALUES (:id, :email, :password_hash, :role, :is_supervisor, :is_active, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, userQuery, user); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create user: %w", err)
	}

	const profileQuery = `INSERT INTO profiles (user_id, first_name, last_name, department, major, student_number, employee_number, phone, year_level, updated_at) VALUES (:user_id, :first_name, :last_name, :department, :major, :student_number, :employee_number, :phone, :year_level, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, profileQuery, &user.Profile); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("create profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create user: %w", err)
	}
	return nil
}

// Update persists account flags and profile fields.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	now := time.Now().UTC()
	user.UpdatedAt = now
	user.Profile.UpdatedAt = now
	user.Profile.UserID = user.ID

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update user: %w", err)
	}
	const userQuery = `UPDATE users SET is_supervisor = :is_supervisor, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	res, err := tx.NamedExecContext(ctx, userQuery, user)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update user: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		tx.Rollback() //nolint:errcheck
		return sql.ErrNoRows
	}
	const profileQuery = `UPDATE profiles SET first_name = :first_name, last_name = :last_name, department = :department, major = :major, student_number = :student_number, employee_number = :employee_number, phone = :phone, year_level = :year_level, updated_at = :updated_at WHERE user_id = :user_id`
	if _, err := tx.NamedExecContext(ctx, profileQuery, &user.Profile); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("update profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update user: %w", err)
	}
	return nil
}

// Deactivate marks the user inactive.
func (r *UserRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE users SET is_active = FALSE, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes the user row; profile and dependants cascade.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp for a user.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE users SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// UpdateGPA writes the cached GPA onto the student's profile. Last writer wins.
func (r *UserRepository) UpdateGPA(ctx context.Context, userID string, gpa float64) error {
	const query = `UPDATE profiles SET gpa = $2, updated_at = $3 WHERE user_id = $1`
	res, err := r.db.ExecContext(ctx, query, userID, gpa, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update gpa: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByRole groups users by role.
func (r *UserRepository) CountByRole(ctx context.Context) ([]models.CountRow, error) {
	const query = `SELECT role AS key, COUNT(*) AS count FROM users GROUP BY role`
	var rows []models.CountRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count users by role: %w", err)
	}
	return rows, nil
}

// AverageStudentGPA averages the cached GPA of active students.
func (r *UserRepository) AverageStudentGPA(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(AVG(p.gpa), 0) FROM profiles p JOIN users u ON u.id = p.user_id WHERE u.role = 'STUDENT' AND u.is_active = TRUE AND p.gpa IS NOT NULL`
	var avg float64
	if err := r.db.GetContext(ctx, &avg, query); err != nil {
		return 0, fmt.Errorf("average student gpa: %w", err)
	}
	return avg, nil
}

// CreateRefreshToken persists a refresh token entry.
func (r *UserRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at, revoked, ip_address, user_agent) VALUES (:id, :user_id, :token_hash, :expires_at, :created_at, :revoked, :ip_address, :user_agent)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by its hash.
func (r *UserRepository) FindRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	const query = `SELECT id, user_id, token_hash, expires_at, created_at, revoked, ip_address, user_agent FROM refresh_tokens WHERE token_hash = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, tokenHash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked. It reports false when it was already revoked.
func (r *UserRepository) RevokeRefreshToken(ctx context.Context, id string) (bool, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	rows, _ := res.RowsAffected()
	return rows == 1, nil
}

// RevokeUserRefreshTokens revokes all refresh tokens for a user.
func (r *UserRepository) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}
