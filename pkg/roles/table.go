package roles

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scope tags where a provider role is expected to come from. It is descriptive
// only; matching ignores it.
type Scope string

const (
	ScopeRealm    Scope = "realm"
	ScopeResource Scope = "resource"
	ScopeGroup    Scope = "group"
)

// Entry maps one provider role name to an internal role
type Entry struct {
	ProviderRole string `yaml:"provider_role" json:"providerRole"`
	Role         Role   `yaml:"role" json:"role"`
	Scope        Scope  `yaml:"scope,omitempty" json:"scope,omitempty"`
	Description  string `yaml:"description,omitempty" json:"description,omitempty"`
}

// PatternEntry maps provider roles matching a regular expression to an
// internal role. Patterns are matched case-insensitively.
type PatternEntry struct {
	Pattern     string `yaml:"pattern" json:"pattern"`
	Role        Role   `yaml:"role" json:"role"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Table is the ordered mapping data: explicit entries first, then patterns
type Table struct {
	Entries  []Entry        `yaml:"entries" json:"entries"`
	Patterns []PatternEntry `yaml:"patterns" json:"patterns"`
}

// DefaultTable returns the built-in mapping for a stock Keycloak realm
func DefaultTable() Table {
	return Table{
		Entries: []Entry{
			{ProviderRole: "realm-admin", Role: Admin, Scope: ScopeResource, Description: "Keycloak realm administrator role"},
			{ProviderRole: "realm-manager", Role: Manager, Scope: ScopeResource, Description: "Keycloak realm manager role"},
			{ProviderRole: "realm-employee", Role: Employee, Scope: ScopeResource, Description: "Keycloak realm employee role"},

			{ProviderRole: "admin", Role: Admin, Description: "Generic admin role"},
			{ProviderRole: "admins", Role: Admin},
			{ProviderRole: "administrator", Role: Admin},
			{ProviderRole: "administrators", Role: Admin},

			{ProviderRole: "manager", Role: Manager, Description: "Generic manager role"},
			{ProviderRole: "managers", Role: Manager},
			{ProviderRole: "management", Role: Manager},

			{ProviderRole: "employee", Role: Employee, Description: "Generic employee role"},
			{ProviderRole: "employees", Role: Employee},
			{ProviderRole: "user", Role: Employee, Description: "Default user role"},
			{ProviderRole: "users", Role: Employee},
			{ProviderRole: "staff", Role: Employee},
		},
		Patterns: []PatternEntry{
			{Pattern: "^realm-admin", Role: Admin},
			{Pattern: "^realm-manager", Role: Manager},
			{Pattern: "^realm-employee", Role: Employee},
		},
	}
}

// Validate checks every entry targets an internal role and every pattern compiles
func (t Table) Validate() error {
	var errs []error
	for i, e := range t.Entries {
		if strings.TrimSpace(e.ProviderRole) == "" {
			errs = append(errs, fmt.Errorf("entry %d: provider_role is required", i))
		}
		if !e.Role.Valid() {
			errs = append(errs, fmt.Errorf("entry %d (%s): unknown role %q", i, e.ProviderRole, e.Role))
		}
	}
	for i, p := range t.Patterns {
		if _, err := compilePattern(p.Pattern); err != nil {
			errs = append(errs, fmt.Errorf("pattern %d: %w", i, err))
		}
		if !p.Role.Valid() {
			errs = append(errs, fmt.Errorf("pattern %d (%s): unknown role %q", i, p.Pattern, p.Role))
		}
	}
	return errors.Join(errs...)
}

// ParseTable decodes and validates a YAML mapping document.
// Unknown keys are rejected so typos do not silently drop rules.
func ParseTable(data []byte) (Table, error) {
	var t Table
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Table{}, fmt.Errorf("failed to parse role mapping: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, fmt.Errorf("invalid role mapping: %w", err)
	}
	return t, nil
}

// LoadTable reads a YAML mapping file
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("failed to read role mapping %s: %w", path, err)
	}
	return ParseTable(data)
}

// Encode renders the table in the same format ParseTable reads
func (t Table) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(t); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, errors.New("empty pattern")
	}
	return regexp.Compile("(?i)" + pattern)
}
