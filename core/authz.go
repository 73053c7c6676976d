package core

// Authorization is the set of facts the rest of the application branches on.
type Authorization struct {
	IsAuthenticated    bool
	IsCouple           bool
	IsProvider         bool
	IsCoordinator      bool
	IsAdmin            bool
	IsApprovedProvider bool
	IsPremiumProvider  bool

	role Role
}

// Authorize derives authorization facts from the current identity and
// profile. A missing identity or a profile still loading yields no facts;
// role facts need a loaded profile.
func Authorize(identity *Identity, profile *Profile, loading bool) Authorization {
	var a Authorization
	a.IsAuthenticated = identity != nil && !loading
	if identity == nil || profile == nil {
		return a
	}

	a.role = profile.Role
	switch profile.Role {
	case RoleCouple:
		a.IsCouple = true
	case RoleProvider:
		a.IsProvider = true
		if gate, ok := profile.Gate(); ok {
			a.IsApprovedProvider = gate.IsApproved
			a.IsPremiumProvider = gate.IsPremium
		}
	case RoleCoordinator:
		a.IsCoordinator = true
	case RoleAdmin:
		a.IsAdmin = true
	}
	return a
}

// Role returns the role of the profile the facts were derived from, or ""
// when there was none.
func (a Authorization) Role() Role {
	return a.role
}

// HasRole reports whether the profile role is any of roles.
func (a Authorization) HasRole(roles ...Role) bool {
	if a.role == "" {
		return false
	}
	for _, r := range roles {
		if r == a.role {
			return true
		}
	}
	return false
}
