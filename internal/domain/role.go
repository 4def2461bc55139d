package domain

// Role is the coarse authorization level of an account.
type Role string

// Role constants define the allowed account roles.
const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// IsValidRole reports whether role names a known account role. Matching is
// case-sensitive.
func IsValidRole(role string) bool {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return true
	}
	return false
}
