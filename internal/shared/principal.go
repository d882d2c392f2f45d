package shared

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Role is the closed set of caller roles supplied by the directory.
type Role int

const (
	RoleEmployee Role = iota + 1
	RoleManager
	RoleHR
	RoleAdmin
)

// ParseRole converts the directory representation into a Role.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "employee":
		return RoleEmployee, nil
	case "manager":
		return RoleManager, nil
	case "hr":
		return RoleHR, nil
	case "admin":
		return RoleAdmin, nil
	default:
		return 0, fmt.Errorf("shared: unknown role %q", value)
	}
}

func (r Role) String() string {
	switch r {
	case RoleEmployee:
		return "employee"
	case RoleManager:
		return "manager"
	case RoleHR:
		return "hr"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// Principal is the authenticated caller.
type Principal struct {
	EmployeeID uuid.UUID
	Role       Role
	// Reports holds the employees managed by a manager.
	Reports []uuid.UUID
}

// Manages reports whether employeeID is a direct report of the principal.
func (p Principal) Manages(employeeID uuid.UUID) bool {
	return slices.Contains(p.Reports, employeeID)
}

// Privileged reports whether the principal sees every employee's records.
func (p Principal) Privileged() bool {
	return p.Role == RoleHR || p.Role == RoleAdmin
}
