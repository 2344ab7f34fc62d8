package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowed(t *testing.T) {
	cases := []struct {
		name     string
		role     UserRole
		required []UserRole
		want     bool
	}{
		{"any known role with empty list", RoleStudent, nil, true},
		{"unknown role never allowed", UserRole("GUEST"), nil, false},
		{"listed role", RoleTeacher, []UserRole{RoleTeacher, RoleAdmin}, true},
		{"unlisted role", RoleStudent, []UserRole{RoleTeacher, RoleAdmin}, false},
		{"admin is not implicit", RoleAdmin, []UserRole{RoleStudent}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAllowed(tc.role, tc.required...))
		})
	}
}

func TestCanCreateRole(t *testing.T) {
	expect := map[UserRole]map[UserRole]bool{
		RoleStudent:           {RoleStudent: false, RoleTeacher: false, RoleSupervisorTeacher: false, RoleAdmin: false},
		RoleTeacher:           {RoleStudent: false, RoleTeacher: false, RoleSupervisorTeacher: false, RoleAdmin: false},
		RoleSupervisorTeacher: {RoleStudent: true, RoleTeacher: true, RoleSupervisorTeacher: false, RoleAdmin: false},
		RoleAdmin:             {RoleStudent: true, RoleTeacher: true, RoleSupervisorTeacher: true, RoleAdmin: true},
	}
	for creator, targets := range expect {
		for target, want := range targets {
			assert.Equal(t, want, CanCreateRole(creator, target), "%s creating %s", creator, target)
		}
	}
	assert.False(t, CanCreateRole(RoleAdmin, UserRole("ROOT")))
}

func TestParseRole(t *testing.T) {
	role, ok := ParseRole(" supervisor_teacher ")
	assert.True(t, ok)
	assert.Equal(t, RoleSupervisorTeacher, role)

	_, ok = ParseRole("janitor")
	assert.False(t, ok)
}

func TestNormalizePage(t *testing.T) {
	page, size := NormalizePage(0, 500)
	assert.Equal(t, 1, page)
	assert.Equal(t, 100, size)
}
