package core

// Role is the marketplace role assigned to a profile at creation.
//
// A profile's role never changes once it has been written.
type Role string

const (
	RoleCouple      Role = "couple"
	RoleProvider    Role = "provider"
	RoleCoordinator Role = "coordinator"
	RoleAdmin       Role = "admin"
)

// Roles lists every assignable role.
var Roles = []Role{RoleCouple, RoleProvider, RoleCoordinator, RoleAdmin}

// Valid reports whether r is one of the assignable roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCouple, RoleProvider, RoleCoordinator, RoleAdmin:
		return true
	}
	return false
}

// Gated reports whether profiles of this role carry approval and premium state.
func (r Role) Gated() bool {
	return r == RoleProvider || r == RoleCoordinator
}

func (r Role) String() string {
	return string(r)
}

// ParseRole converts user input into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", ErrInvalidRole
	}
	return r, nil
}
