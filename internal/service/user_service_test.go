package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/models"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
)

type mockUserRepo struct {
	users          map[string]*models.User
	listUsers      []models.User
	listCount      int
	listErr        error
	findByIDErr    error
	findByEmailErr error
	createErr      error
	lastFilter     models.UserFilter
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, 0, m.listErr
	}
	if m.listUsers != nil {
		return m.listUsers, m.listCount, nil
	}
	var users []models.User
	for _, u := range m.users {
		users = append(users, *u)
	}
	return users, len(users), nil
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	if user, ok := m.users[id]; ok {
		copy := *user
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var out []models.User
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.findByEmailErr != nil {
		return nil, m.findByEmailErr
	}
	for _, u := range m.users {
		if u.Email == email {
			copy := *u
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	if m.users == nil {
		m.users = make(map[string]*models.User)
	}
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func (m *mockUserRepo) Update(ctx context.Context, user *models.User) error {
	if _, ok := m.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	copy := *user
	m.users[user.ID] = &copy
	return nil
}

func (m *mockUserRepo) Deactivate(ctx context.Context, id string) error {
	user, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	user.IsActive = false
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.users[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.users, id)
	return nil
}

var (
	adminActor      = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	supervisorActor = models.Actor{ID: "sup-1", Role: models.RoleSupervisorTeacher, IsSupervisor: true}
	teacherActor    = models.Actor{ID: "teacher-1", Role: models.RoleTeacher}
	studentActor    = models.Actor{ID: "student-1", Role: models.RoleStudent}
)

func validCreateUser() CreateUserRequest {
	return CreateUserRequest{Email: "USER@EXAMPLE.COM", Password: "secret123", FirstName: "Ada", LastName: "Lovelace"}
}

func TestUserServiceList(t *testing.T) {
	repo := &mockUserRepo{listUsers: []models.User{{ID: "1", Email: "a@example.com"}}, listCount: 1}
	svc := NewUserService(repo, nil, validator.New(), zap.NewNop())
	users, pagination, err := svc.List(context.Background(), models.UserFilter{PageSize: 500})
	require.NoError(t, err)
	assert.Len(t, users, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, 1, repo.lastFilter.Page)
	assert.Equal(t, 100, repo.lastFilter.PageSize)
}

func TestUserServiceCreate(t *testing.T) {
	repo := &mockUserRepo{users: make(map[string]*models.User)}
	audit := &recordingAudit{}
	svc := NewUserService(repo, audit, validator.New(), zap.NewNop())

	user, err := svc.Create(context.Background(), supervisorActor, models.RoleStudent, validCreateUser())
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", user.Email)
	assert.True(t, user.IsActive)
	assert.NotEqual(t, "secret123", user.PasswordHash)
	assert.Equal(t, []string{models.AuditActionCreate}, audit.actions())
	assert.Equal(t, models.AuditResourceUser, audit.entries[0].Resource)
}

func TestUserServiceCreateSupervisorFlag(t *testing.T) {
	repo := &mockUserRepo{users: make(map[string]*models.User)}
	svc := NewUserService(repo, nil, validator.New(), zap.NewNop())

	user, err := svc.Create(context.Background(), adminActor, models.RoleSupervisorTeacher, validCreateUser())
	require.NoError(t, err)
	assert.True(t, user.IsSupervisor)

	req := validCreateUser()
	req.Email = "student@example.com"
	req.IsSupervisor = true
	_, err = svc.Create(context.Background(), adminActor, models.RoleStudent, req)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreatePermissionMatrix(t *testing.T) {
	svc := NewUserService(&mockUserRepo{users: map[string]*models.User{}}, nil, validator.New(), zap.NewNop())

	cases := []struct {
		actor   models.Actor
		role    models.UserRole
		allowed bool
	}{
		{supervisorActor, models.RoleTeacher, true},
		{supervisorActor, models.RoleAdmin, false},
		{supervisorActor, models.RoleSupervisorTeacher, false},
		{teacherActor, models.RoleStudent, false},
		{studentActor, models.RoleStudent, false},
	}
	for _, tc := range cases {
		_, err := svc.Create(context.Background(), tc.actor, tc.role, CreateUserRequest{})
		if tc.allowed {
			// an empty payload still fails validation, but not authorization
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code, "%s -> %s", tc.actor.Role, tc.role)
			continue
		}
		assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code, "%s -> %s", tc.actor.Role, tc.role)
	}
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"1": {ID: "1", Email: "user@example.com"}}}
	svc := NewUserService(repo, nil, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), adminActor, models.RoleTeacher, validCreateUser())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateRaceOnEmail(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{}, createErr: &pq.Error{Code: "23505", Constraint: "users_email_key"}}
	svc := NewUserService(repo, nil, validator.New(), zap.NewNop())

	_, err := svc.Create(context.Background(), adminActor, models.RoleTeacher, validCreateUser())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceUpdate(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"t1": {ID: "t1", Email: "a@example.com", Role: models.RoleTeacher, IsActive: true, Profile: models.Profile{FirstName: "Old"}},
	}}
	audit := &recordingAudit{}
	svc := NewUserService(repo, audit, validator.New(), zap.NewNop())

	name := "New"
	supervisor := true
	user, err := svc.Update(context.Background(), adminActor, "t1", UpdateUserRequest{FirstName: &name, IsSupervisor: &supervisor})
	require.NoError(t, err)
	assert.Equal(t, "New", user.Profile.FirstName)
	assert.True(t, repo.users["t1"].IsSupervisor)
	assert.Equal(t, []string{models.AuditActionUpdate}, audit.actions())
}

func TestUserServiceUpdateRestrictions(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{
		"t1":        {ID: "t1", Role: models.RoleTeacher, IsActive: true},
		"student-1": {ID: "student-1", Role: models.RoleStudent, IsActive: true},
		"admin-2":   {ID: "admin-2", Role: models.RoleAdmin, IsActive: true},
	}}
	svc := NewUserService(repo, nil, validator.New(), zap.NewNop())
	yes := true
	no := false

	_, err := svc.Update(context.Background(), supervisorActor, "t1", UpdateUserRequest{IsSupervisor: &yes})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Update(context.Background(), studentActor, "student-1", UpdateUserRequest{IsActive: &no})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Update(context.Background(), supervisorActor, "admin-2", UpdateUserRequest{})
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	phone := "555"
	user, err := svc.Update(context.Background(), studentActor, "student-1", UpdateUserRequest{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "555", *user.Profile.Phone)
}

func TestUserServiceDeactivate(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"s1": {ID: "s1", Role: models.RoleStudent, IsActive: true}}}
	svc := NewUserService(repo, nil, validator.New(), zap.NewNop())

	require.NoError(t, svc.Deactivate(context.Background(), supervisorActor, "s1"))
	assert.False(t, repo.users["s1"].IsActive)

	err := svc.Deactivate(context.Background(), adminActor, "missing")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceDelete(t *testing.T) {
	repo := &mockUserRepo{users: map[string]*models.User{"1": {ID: "1", Email: "a@example.com", Role: models.RoleTeacher, IsActive: true}}}
	audit := &recordingAudit{}
	svc := NewUserService(repo, audit, validator.New(), zap.NewNop())

	err := svc.Delete(context.Background(), supervisorActor, "1")
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Delete(context.Background(), adminActor, "1"))
	assert.NotContains(t, repo.users, "1")
	assert.Equal(t, []string{models.AuditActionDelete}, audit.actions())

	err = svc.Delete(context.Background(), adminActor, adminActor.ID)
	assert.Equal(t, appErrors.ErrBadRequest.Code, appErrors.FromError(err).Code)
}
