package rbac

// Role constants
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCounter = "counter"
)

// Permission constants
const (
	PermReadSessions   = "read_sessions"
	PermCreateSession  = "create_session"
	PermUpdateSession  = "update_session"
	PermStartCounting  = "start_counting"
	PermRecordCounts   = "record_counts"
	PermMoveToReview   = "move_to_review"
	PermCompleteAudit  = "complete_session"
	PermCancelSession  = "cancel_session"
	PermAddAttachment  = "add_attachment"
	PermExportVariance = "export_variance"
)

var allPermissions = []string{
	PermReadSessions, PermCreateSession, PermUpdateSession, PermStartCounting,
	PermRecordCounts, PermMoveToReview, PermCompleteAudit, PermCancelSession,
	PermAddAttachment, PermExportVariance,
}

// RolePermissions defines what each role can do.
var RolePermissions = map[string][]string{
	RoleAdmin:   allPermissions,
	RoleManager: allPermissions,
	RoleCounter: {
		PermReadSessions, PermRecordCounts, PermAddAttachment,
		// Counter CANNOT plan, move the lifecycle or export.
	},
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role, permission string) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == permission {
			return true
		}
	}
	return false
}

func IsValidRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}
