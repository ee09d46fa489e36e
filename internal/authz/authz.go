// Package authz holds the role hierarchy used to gate admin operations.
package authz

import "strings"

// Role is a caller's account role as carried in the access token.
type Role string

const (
	RoleUser       Role = "USER"
	RoleSupport    Role = "SUPPORT"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// ParseRole normalizes a role claim. Unknown values yield an empty Role,
// which no policy check admits.
func ParseRole(s string) Role {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleUser, RoleSupport, RoleAdmin, RoleSuperAdmin:
		return r
	default:
		return ""
	}
}

// Actor identifies who is performing an operation.
type Actor struct {
	UserID string
	Role   Role
}

// Policy decides whether a role satisfies a required role. A role satisfies
// a requirement when both appear in the same hierarchy and the role ranks at
// or above it.
type Policy struct {
	hierarchies []map[Role]int
}

// NewPolicy builds a policy from ordered hierarchies, lowest role first.
func NewPolicy(hierarchies ...[]Role) *Policy {
	p := &Policy{}
	for _, h := range hierarchies {
		ranks := make(map[Role]int, len(h))
		for i, r := range h {
			ranks[r] = i + 1
		}
		p.hierarchies = append(p.hierarchies, ranks)
	}
	return p
}

// DefaultPolicy returns the platform hierarchies:
// USER < ADMIN < SUPER_ADMIN and SUPPORT < ADMIN < SUPER_ADMIN.
func DefaultPolicy() *Policy {
	return NewPolicy(
		[]Role{RoleUser, RoleAdmin, RoleSuperAdmin},
		[]Role{RoleSupport, RoleAdmin, RoleSuperAdmin},
	)
}

// Allows reports whether current satisfies required.
func (p *Policy) Allows(current, required Role) bool {
	for _, h := range p.hierarchies {
		have, ok := h[current]
		if !ok {
			continue
		}
		need, ok := h[required]
		if !ok {
			continue
		}
		if have >= need {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor may perform admin operations.
func (p *Policy) IsAdmin(a Actor) bool {
	return p.Allows(a.Role, RoleAdmin)
}
