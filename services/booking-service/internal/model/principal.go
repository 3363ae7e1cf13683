package model

import "strings"

type Role string

const (
	RoleFarmer   Role = "farmer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// ParseRole accepts the role names issued by the identity service; "vet" is
// the legacy name for a provider.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "farmer":
		return RoleFarmer, true
	case "provider", "vet":
		return RoleProvider, true
	case "admin":
		return RoleAdmin, true
	}
	return "", false
}

// Principal is the authenticated caller. For providers ID is the provider id.
type Principal struct {
	ID   string
	Role Role
}

// SystemActor is recorded on timeline entries written by background flows
// such as payment settlement.
const SystemActor = "system"
