package roles

import (
	"regexp"
	"strings"
)

// RoleMapper translates provider role names into internal roles
type RoleMapper interface {
	MapOne(providerRole string) (Role, bool)
	MapMany(providerRoles []string) Set
	Unmapped(providerRoles []string) []string
}

type compiledPattern struct {
	re   *regexp.Regexp
	role Role
}

// Mapper is an immutable RoleMapper compiled from a Table
type Mapper struct {
	table    Table
	exact    map[string]Role
	patterns []compiledPattern
}

// NewMapper validates and compiles a table
func NewMapper(table Table) (*Mapper, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}

	m := &Mapper{
		table: table,
		exact: make(map[string]Role, len(table.Entries)),
	}
	for _, e := range table.Entries {
		key := normalize(e.ProviderRole)
		if _, seen := m.exact[key]; seen {
			// first entry wins
			continue
		}
		m.exact[key] = e.Role
	}
	for _, p := range table.Patterns {
		re, _ := compilePattern(p.Pattern)
		m.patterns = append(m.patterns, compiledPattern{re: re, role: p.Role})
	}
	return m, nil
}

// DefaultMapper returns a mapper over DefaultTable
func DefaultMapper() *Mapper {
	m, err := NewMapper(DefaultTable())
	if err != nil {
		panic("roles: default table is invalid: " + err.Error())
	}
	return m
}

// Table returns the table the mapper was built from
func (m *Mapper) Table() Table {
	return m.table
}

// MapOne maps a single provider role. Explicit entries are consulted before
// patterns; within each tier the first match wins.
func (m *Mapper) MapOne(providerRole string) (Role, bool) {
	key := normalize(providerRole)
	if key == "" {
		return "", false
	}
	if r, ok := m.exact[key]; ok {
		return r, true
	}
	for _, p := range m.patterns {
		if p.re.MatchString(key) {
			return p.role, true
		}
	}
	return "", false
}

// MapMany maps every provider role and drops the unmapped ones
func (m *Mapper) MapMany(providerRoles []string) Set {
	out := make(Set)
	for _, pr := range providerRoles {
		if r, ok := m.MapOne(pr); ok {
			out.Add(r)
		}
	}
	return out
}

// Unmapped returns the provider roles with no mapping, in input order
func (m *Mapper) Unmapped(providerRoles []string) []string {
	var out []string
	for _, pr := range providerRoles {
		if _, ok := m.MapOne(pr); !ok {
			out = append(out, pr)
		}
	}
	return out
}

func normalize(providerRole string) string {
	return strings.ToLower(strings.TrimSpace(providerRole))
}
