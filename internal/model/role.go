package model

import (
	"fmt"
	"strings"
)

// Role is a named permission flag. Roles are independent: holding RoleAdmin
// grants nothing else.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCultivator Role = "cultivator"
	RoleProcessor  Role = "processor"
	RoleDispensary Role = "dispensary"
	// RoleConsumer is reserved; no transition requires it today.
	RoleConsumer Role = "consumer"
)

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleCultivator, RoleProcessor, RoleDispensary, RoleConsumer}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole normalizes and validates a role name.
func ParseRole(v string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(v)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", v)
	}
	return r, nil
}
