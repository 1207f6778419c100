package roles

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Role is one of the internal roles gating pages and panels
type Role string

const (
	Employee Role = "employee"
	Manager  Role = "manager"
	Admin    Role = "admin"
)

// rank orders roles from least to most privileged
var rank = map[Role]int{
	Employee: 1,
	Manager:  2,
	Admin:    3,
}

// hierarchy lists the roles each role implies, itself included
var hierarchy = map[Role][]Role{
	Employee: {Employee},
	Manager:  {Employee, Manager},
	Admin:    {Employee, Manager, Admin},
}

// All returns the internal roles ordered by privilege
func All() []Role {
	return []Role{Employee, Manager, Admin}
}

// ParseRole converts a string to a Role
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown internal role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the internal roles
func (r Role) Valid() bool {
	_, ok := rank[r]
	return ok
}

// Implies reports whether holding r grants other
func (r Role) Implies(other Role) bool {
	for _, implied := range hierarchy[r] {
		if implied == other {
			return true
		}
	}
	return false
}

// Implied returns the roles r grants, itself included
func (r Role) Implied() []Role {
	return append([]Role(nil), hierarchy[r]...)
}

// Set is an unordered collection of internal roles
type Set map[Role]struct{}

// NewSet builds a set from roles, ignoring invalid ones
func NewSet(roles ...Role) Set {
	s := make(Set, len(roles))
	for _, r := range roles {
		s.Add(r)
	}
	return s
}

// Add inserts a valid role
func (s Set) Add(r Role) {
	if r.Valid() {
		s[r] = struct{}{}
	}
}

// Has reports exact membership, without applying the hierarchy
func (s Set) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Len returns the number of roles held
func (s Set) Len() int {
	return len(s)
}

// Slice returns the roles ordered from least to most privileged
func (s Set) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return rank[out[i]] < rank[out[j]] })
	return out
}

// Strings returns the role names ordered from least to most privileged
func (s Set) Strings() []string {
	roles := s.Slice()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// Union returns a new set with the roles of both sets
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for r := range s {
		out[r] = struct{}{}
	}
	for r := range other {
		out[r] = struct{}{}
	}
	return out
}

// HasRole reports whether some held role implies r
func (s Set) HasRole(r Role) bool {
	for held := range s {
		if held.Implies(r) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether some held role implies at least one of roles
func (s Set) HasAnyRole(roles ...Role) bool {
	for _, r := range roles {
		if s.HasRole(r) {
			return true
		}
	}
	return false
}

// HasAllRoles reports whether every one of roles is implied by the held roles
func (s Set) HasAllRoles(roles ...Role) bool {
	for _, r := range roles {
		if !s.HasRole(r) {
			return false
		}
	}
	return true
}

// Satisfies reports whether the set meets a requirement: an empty requirement
// is always met, otherwise some held role must imply some required role.
func (s Set) Satisfies(required Set) bool {
	if len(required) == 0 {
		return true
	}
	for r := range required {
		if s.HasRole(r) {
			return true
		}
	}
	return false
}

// Highest returns the most privileged role held
func (s Set) Highest() (Role, bool) {
	var best Role
	for r := range s {
		if rank[r] > rank[best] {
			best = r
		}
	}
	return best, best != ""
}

// MarshalJSON encodes the set as an ordered array of role names
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes an array of role names, dropping unknown names
func (s *Set) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	out := make(Set, len(names))
	for _, name := range names {
		out.Add(Role(name))
	}
	*s = out
	return nil
}
