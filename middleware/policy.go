package middleware

import "schoolreg/models"

// Actions a principal can take on a resource.
const (
	ActionRead   = "read"
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Resources guarded by the staff portal.
const (
	ResourceStaff       = "staff"
	ResourceUsers       = "users"
	ResourceStudents    = "students"
	ResourceCourses     = "courses"
	ResourceResources   = "resources"
	ResourceAssignments = "assignments"
	ResourceGrades      = "grades"
	ResourcePayments    = "payments"
	ResourceDocuments   = "documents"
	ResourceLogs        = "logs"
)

type grant map[string]map[string]bool

func actions(list ...string) map[string]bool {
	m := make(map[string]bool, len(list))
	for _, a := range list {
		m[a] = true
	}
	return m
}

var (
	readOnly  = actions(ActionRead)
	readWrite = actions(ActionRead, ActionCreate, ActionUpdate)
	all       = actions(ActionRead, ActionCreate, ActionUpdate, ActionDelete)
)

// policy lists the grants of every role except Admin, which may do anything.
var policy = map[string]grant{
	models.RoleDeputyAdmin: {
		ResourceStaff:       readWrite,
		ResourceUsers:       readWrite,
		ResourceStudents:    all,
		ResourceCourses:     all,
		ResourceResources:   all,
		ResourceAssignments: all,
		ResourceGrades:      all,
		ResourcePayments:    readOnly,
		ResourceDocuments:   all,
		ResourceLogs:        readOnly,
	},
	models.RoleAssistantAdmin: {
		ResourceStaff:       readOnly,
		ResourceUsers:       readOnly,
		ResourceStudents:    readWrite,
		ResourceCourses:     readOnly,
		ResourceResources:   readWrite,
		ResourceAssignments: readWrite,
		ResourceGrades:      readWrite,
		ResourcePayments:    readOnly,
		ResourceDocuments:   readWrite,
	},
	models.RoleInstructor: {
		ResourceStudents:    readOnly,
		ResourceCourses:     readOnly,
		ResourceResources:   all,
		ResourceAssignments: all,
		ResourceGrades:      readWrite,
	},
}

// Can reports whether role may perform action on resource.
func Can(role, action, resource string) bool {
	if role == models.RoleAdmin {
		return true
	}
	return policy[role][resource][action]
}

// IsStaffRole reports whether role belongs to the staff portal.
func IsStaffRole(role string) bool {
	if role == models.RoleAdmin {
		return true
	}
	_, ok := policy[role]
	return ok
}
