package auth

// Role is the closed set of caller roles decoded at the trust boundary.
type Role string

const (
	RoleSender   Role = "SENDER"
	RoleStation  Role = "STATION"
	RoleCustomer Role = "CUSTOMER"
	RoleAdmin    Role = "ADMIN"
	RoleUnknown  Role = "UNKNOWN"
)

// ParseRole maps a raw role claim to a Role. Anything unrecognized becomes
// RoleUnknown; resolvers log that case so a bad claim is never silent.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleSender, RoleStation, RoleCustomer, RoleAdmin:
		return Role(s)
	default:
		return RoleUnknown
	}
}

// Identity is the verified caller, resolved once per request and never persisted.
type Identity struct {
	SubjectID string
	CompanyID string
	Role      Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
