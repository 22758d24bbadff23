package auth

// Permission is a fine-grained capability checked alongside the role.
type Permission string

const (
	PermCreateTask   Permission = "create:task"
	PermReadTask     Permission = "read:task"
	PermUpdateTask   Permission = "update:task"
	PermDeleteTask   Permission = "delete:task"
	PermReadAuditLog Permission = "read:audit-log"
)

var rolePermissions = map[Role]map[Permission]struct{}{
	RoleOwner:  permissionSet(PermCreateTask, PermReadTask, PermUpdateTask, PermDeleteTask, PermReadAuditLog),
	RoleAdmin:  permissionSet(PermCreateTask, PermReadTask, PermUpdateTask, PermDeleteTask, PermReadAuditLog),
	RoleViewer: permissionSet(PermReadTask),
}

func permissionSet(perms ...Permission) map[Permission]struct{} {
	set := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// PermissionsFor returns the permissions granted to role, in a stable order.
// Unknown roles hold nothing.
func PermissionsFor(role Role) []Permission {
	set := rolePermissions[role]
	out := make([]Permission, 0, len(set))
	for _, p := range []Permission{PermCreateTask, PermReadTask, PermUpdateTask, PermDeleteTask, PermReadAuditLog} {
		if _, ok := set[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// HasPermission reports whether role holds perm.
func HasPermission(role Role, perm Permission) bool {
	_, ok := rolePermissions[role][perm]
	return ok
}
