package model

import (
	"fmt"
	"strings"
)

// Role is the closed set of caller roles. The zero value is not a valid role.
type Role uint8

const (
	RolePlatformSuper Role = iota + 1
	RoleTenantAdmin
	RoleInstructor
	RoleLearner
	RoleGuardian
)

var roleNames = map[Role]string{
	RolePlatformSuper: "platform_super",
	RoleTenantAdmin:   "tenant_admin",
	RoleInstructor:    "instructor",
	RoleLearner:       "learner",
	RoleGuardian:      "guardian",
}

func ParseRole(value string) (Role, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	for role, name := range roleNames {
		if name == value {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", value)
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Staff roles may act on other students' records inside their tenant.
func (r Role) Staff() bool {
	return r == RolePlatformSuper || r == RoleTenantAdmin || r == RoleInstructor
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", r)
	}
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
