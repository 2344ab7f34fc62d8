package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/edu-manage-api/internal/models"
	"github.com/noah-isme/edu-manage-api/internal/repository"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// CreateUserRequest represents payload for creating users. The role comes from the route.
type CreateUserRequest struct {
	Email          string  `json:"email" validate:"required,email,max=255"`
	Password       string  `json:"password" validate:"required,min=8,max=72"`
	FirstName      string  `json:"first_name" validate:"required,max=100"`
	LastName       string  `json:"last_name" validate:"required,max=100"`
	Department     *string `json:"department" validate:"omitempty,max=100"`
	Major          *string `json:"major" validate:"omitempty,max=100"`
	StudentNumber  *string `json:"student_number" validate:"omitempty,max=50"`
	EmployeeNumber *string `json:"employee_number" validate:"omitempty,max=50"`
	Phone          *string `json:"phone" validate:"omitempty,max=30"`
	YearLevel      *int    `json:"year_level" validate:"omitempty,min=1,max=10"`
	IsSupervisor   bool    `json:"is_supervisor"`
}

// UpdateUserRequest payload for updating users. Nil fields are left unchanged.
type UpdateUserRequest struct {
	FirstName      *string `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName       *string `json:"last_name" validate:"omitempty,min=1,max=100"`
	Department     *string `json:"department" validate:"omitempty,max=100"`
	Major          *string `json:"major" validate:"omitempty,max=100"`
	StudentNumber  *string `json:"student_number" validate:"omitempty,max=50"`
	EmployeeNumber *string `json:"employee_number" validate:"omitempty,max=50"`
	Phone          *string `json:"phone" validate:"omitempty,max=30"`
	YearLevel      *int    `json:"year_level" validate:"omitempty,min=1,max=10"`
	IsActive       *bool   `json:"is_active"`
	IsSupervisor   *bool   `json:"is_supervisor"`
}

// UserService handles user management workflows.
type UserService struct {
	repo      userRepository
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	filter.Page, filter.PageSize = models.NormalizePage(filter.Page, filter.PageSize)
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Create adds a user of the given role when the actor may create it.
func (s *UserService) Create(ctx context.Context, actor models.Actor, role models.UserRole, req CreateUserRequest) (*models.User, error) {
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	if !models.CanCreateRole(actor.Role, role) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to create "+strings.ToLower(string(role))+" accounts")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	if req.IsSupervisor && role != models.RoleTeacher && role != models.RoleSupervisorTeacher {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only teachers can be supervisors")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email uniqueness")
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(passwordHash),
		Role:         role,
		IsSupervisor: role == models.RoleSupervisorTeacher || req.IsSupervisor,
		IsActive:     true,
		Profile: models.Profile{
			FirstName:      strings.TrimSpace(req.FirstName),
			LastName:       strings.TrimSpace(req.LastName),
			Department:     req.Department,
			Major:          req.Major,
			StudentNumber:  req.StudentNumber,
			EmployeeNumber: req.EmployeeNumber,
			Phone:          req.Phone,
			YearLevel:      req.YearLevel,
		},
	}

	if err := s.repo.Create(ctx, user); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.record(ctx, actor, models.AuditActionCreate, user.ID, nil, userSnapshot(user))
	return user, nil
}

// Update changes profile fields. Account flags are reserved for admins; supervisors may
// toggle activity of students and teachers.
func (s *UserService) Update(ctx context.Context, actor models.Actor, id string, req UpdateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update user payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canManageUser(actor, user) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to update this user")
	}
	if req.IsSupervisor != nil && actor.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins can change supervisor rights")
	}
	if req.IsActive != nil && (actor.ID == user.ID || !actor.HasSupervisorRights()) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "not allowed to change account status")
	}
	if req.IsSupervisor != nil && *req.IsSupervisor && user.Role != models.RoleTeacher && user.Role != models.RoleSupervisorTeacher {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only teachers can be supervisors")
	}

	before := userSnapshot(user)
	applyUserUpdate(user, req)

	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	s.record(ctx, actor, models.AuditActionUpdate, user.ID, before, userSnapshot(user))
	return user, nil
}

// Deactivate soft-deletes a user.
func (s *UserService) Deactivate(ctx context.Context, actor models.Actor, id string) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if actor.ID == user.ID {
		return appErrors.Clone(appErrors.ErrBadRequest, "cannot deactivate your own account")
	}
	if !actor.HasSupervisorRights() || !canManageUser(actor, user) {
		return appErrors.Clone(appErrors.ErrForbidden, "not allowed to deactivate this user")
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate user")
	}
	s.record(ctx, actor, models.AuditActionDeactivate, id, map[string]bool{"is_active": user.IsActive}, map[string]bool{"is_active": false})
	return nil
}

// Delete removes a user permanently. Admin only.
func (s *UserService) Delete(ctx context.Context, actor models.Actor, id string) error {
	if actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins can delete users")
	}
	if actor.ID == id {
		return appErrors.Clone(appErrors.ErrBadRequest, "cannot delete your own account")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}
	s.record(ctx, actor, models.AuditActionDelete, id, userSnapshot(user), nil)
	return nil
}

func (s *UserService) record(ctx context.Context, actor models.Actor, action, id string, before, after interface{}) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Actor:      actor,
		Action:     action,
		Resource:   models.AuditResourceUser,
		ResourceID: id,
		OldValues:  before,
		NewValues:  after,
	})
}

// canManageUser: users manage themselves, admins manage everyone and supervisors
// manage students and teachers.
func canManageUser(actor models.Actor, target *models.User) bool {
	switch {
	case actor.ID == target.ID:
		return true
	case actor.Role == models.RoleAdmin:
		return true
	case actor.HasSupervisorRights():
		return target.Role == models.RoleStudent || target.Role == models.RoleTeacher
	default:
		return false
	}
}

func applyUserUpdate(user *models.User, req UpdateUserRequest) {
	p := &user.Profile
	if req.FirstName != nil {
		p.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		p.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Department != nil {
		p.Department = req.Department
	}
	if req.Major != nil {
		p.Major = req.Major
	}
	if req.StudentNumber != nil {
		p.StudentNumber = req.StudentNumber
	}
	if req.EmployeeNumber != nil {
		p.EmployeeNumber = req.EmployeeNumber
	}
	if req.Phone != nil {
		p.Phone = req.Phone
	}
	if req.YearLevel != nil {
		p.YearLevel = req.YearLevel
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.IsSupervisor != nil {
		user.IsSupervisor = *req.IsSupervisor
	}
}

func userSnapshot(u *models.User) map[string]interface{} {
	return map[string]interface{}{
		"id":            u.ID,
		"email":         u.Email,
		"role":          u.Role,
		"is_active":     u.IsActive,
		"is_supervisor": u.IsSupervisor,
		"first_name":    u.Profile.FirstName,
		"last_name":     u.Profile.LastName,
	}
}
