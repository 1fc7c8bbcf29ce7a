package middleware

import (
	"testing"

	"schoolreg/models"

	"github.com/stretchr/testify/assert"
)

func TestCan(t *testing.T) {
	tests := []struct {
		role     string
		action   string
		resource string
		want     bool
	}{
		{models.RoleAdmin, ActionDelete, ResourceStaff, true},
		{models.RoleAdmin, ActionDelete, ResourceUsers, true},
		{models.RoleDeputyAdmin, ActionDelete, ResourceStaff, false},
		{models.RoleDeputyAdmin, ActionDelete, ResourceUsers, false},
		{models.RoleDeputyAdmin, ActionUpdate, ResourceStaff, true},
		{models.RoleDeputyAdmin, ActionDelete, ResourceStudents, true},
		{models.RoleAssistantAdmin, ActionRead, ResourceStaff, true},
		{models.RoleAssistantAdmin, ActionCreate, ResourceStaff, false},
		{models.RoleAssistantAdmin, ActionCreate, ResourceStudents, true},
		{models.RoleAssistantAdmin, ActionDelete, ResourceStudents, false},
		{models.RoleAssistantAdmin, ActionUpdate, ResourceResources, true},
		{models.RoleInstructor, ActionCreate, ResourceGrades, true},
		{models.RoleInstructor, ActionRead, ResourcePayments, false},
		{models.RoleStudent, ActionRead, ResourceStudents, false},
		{"", ActionRead, ResourceCourses, false},
		{models.RoleAdmin, "archive", "anything", true},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Can(tc.role, tc.action, tc.resource), "%s %s %s", tc.role, tc.action, tc.resource)
	}
}

func TestIsStaffRole(t *testing.T) {
	assert.True(t, IsStaffRole(models.RoleAdmin))
	assert.True(t, IsStaffRole(models.RoleInstructor))
	assert.False(t, IsStaffRole(models.RoleStudent))
	assert.False(t, IsStaffRole("owner"))
}
