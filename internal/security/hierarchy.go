package security

import (
	"github.com/coldtrack/coldtrack/internal/domain"
)

// roleRank orders workspace roles. The owner flag ranks above admin.
var roleRank = map[domain.Role]int{
	domain.RoleDriver:     0,
	domain.RoleOffice:     1,
	domain.RoleAdmin:      2,
	domain.RoleSuperadmin: 99,
}

const ownerRank = 3

// Rank returns the effective rank of a user
func Rank(role domain.Role, isOwner bool) int {
	if isOwner && role != domain.RoleSuperadmin {
		return ownerRank
	}
	return roleRank[role]
}

// Actor is the caller of a staff-management operation
type Actor struct {
	UserID  string
	Role    domain.Role
	IsOwner bool
}

func forbidden(msg string) error {
	return domain.NewError(domain.CodeForbidden, msg)
}

// CanAssignRole reports whether actor may create a user with role, or move target to role.
// target is nil when creating.
func CanAssignRole(actor Actor, target *domain.User, role domain.Role) error {
	if !role.Valid() || role == domain.RoleSuperadmin {
		return domain.NewError(domain.CodeInvalidInput, "invalid role")
	}
	actorRank := Rank(actor.Role, actor.IsOwner)
	if target != nil {
		if target.ID == actor.UserID {
			return forbidden("cannot change your own role")
		}
		if target.IsOwner {
			return forbidden("the workspace owner's role changes only through ownership transfer")
		}
		if actorRank <= Rank(target.Role, false) {
			return forbidden("cannot modify a user with an equal or higher role")
		}
	}
	if target == nil {
		// admins may create admins
		if roleRank[role] > actorRank {
			return forbidden("cannot create a user above your own role")
		}
		return nil
	}
	if roleRank[role] >= actorRank {
		return forbidden("cannot promote a user to your own role or higher")
	}
	return nil
}

// CanDeactivate reports whether actor may deactivate target
func CanDeactivate(actor Actor, target *domain.User) error {
	if target.ID == actor.UserID {
		return forbidden("cannot deactivate your own account")
	}
	if target.IsOwner {
		return forbidden("cannot deactivate the workspace owner")
	}
	if actor.Role != domain.RoleSuperadmin && Rank(actor.Role, actor.IsOwner) < Rank(target.Role, false) {
		return forbidden("cannot deactivate a user with a higher role")
	}
	return nil
}
