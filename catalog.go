package classlab

// Permission tags known to the catalog.
const (
	PermUserCreate     Permission = "user.create"
	PermUserDelete     Permission = "user.delete"
	PermUserManage     Permission = "user.manage"
	PermUserViewAll    Permission = "user.viewAll"
	PermUserChangeRole Permission = "user.changeRole"
	PermSessionCreate  Permission = "session.create"
	PermSessionViewAll Permission = "session.viewAll"
	PermDataViewAll    Permission = "data.viewAll"
)

// permissionCatalog is the static, total role -> permission table. Every
// defined role has an entry, even when the set is empty; a missing role is a
// configuration defect, not a runtime condition. There is no inheritance
// between roles: note that namespace admins do not hold session.create even
// though instructors do.
var permissionCatalog = map[Role]map[Permission]bool{
	RoleStudent: {},
	RoleInstructor: {
		PermSessionCreate:  true,
		PermSessionViewAll: true,
		PermUserViewAll:    true,
	},
	RoleNamespaceAdmin: {
		PermUserCreate:     true,
		PermUserDelete:     true,
		PermUserManage:     true,
		PermUserViewAll:    true,
		PermUserChangeRole: true,
		PermSessionViewAll: true,
		PermDataViewAll:    true,
	},
	RoleSystemAdmin: {
		PermUserCreate:     true,
		PermUserDelete:     true,
		PermUserManage:     true,
		PermUserViewAll:    true,
		PermUserChangeRole: true,
		PermSessionCreate:  true,
		PermSessionViewAll: true,
		PermDataViewAll:    true,
	},
}

// RoleHasPermission looks up the catalog entry for role. Unknown roles hold
// nothing; the lookup never panics.
func RoleHasPermission(role Role, p Permission) bool {
	perms, ok := permissionCatalog[role]
	if !ok {
		return false
	}
	return perms[p]
}

// PermissionsForRole returns a copy of the catalog entry for role, empty for
// unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms, ok := permissionCatalog[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	return out
}
