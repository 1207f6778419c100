package token

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// Claim names with meaning to the role pipeline
const (
	ClaimExpiresAt         = "exp"
	ClaimIssuedAt          = "iat"
	ClaimSubject           = "sub"
	ClaimIssuer            = "iss"
	ClaimAuthorizedParty   = "azp"
	ClaimAudience          = "aud"
	ClaimRealmAccess       = "realm_access"
	ClaimResourceAccess    = "resource_access"
	ClaimGroups            = "groups"
	ClaimRoles             = "roles"
	ClaimEmail             = "email"
	ClaimName              = "name"
	ClaimPreferredUsername = "preferred_username"
	ClaimEmailVerified     = "email_verified"
)

// Payload is a decoded claim set. Accessors return ok=false instead of
// panicking when a claim is absent or has an unexpected type.
type Payload map[string]interface{}

// Has reports whether the claim is present and non-null
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	return ok && v != nil
}

// String returns a string claim
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Number returns a numeric claim
func (p Payload) Number(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// Int64 returns a numeric claim truncated to an integer
func (p Payload) Int64(key string) (int64, bool) {
	f, ok := p.Number(key)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// Bool returns a boolean claim
func (p Payload) Bool(key string) (bool, bool) {
	b, ok := p[key].(bool)
	return b, ok
}

// StringSlice returns the string elements of an array claim.
// Non-string elements are skipped; a non-array value yields ok=false.
func (p Payload) StringSlice(key string) ([]string, bool) {
	switch v := p[key].(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	case []string:
		return append([]string(nil), v...), true
	default:
		return nil, false
	}
}

// Map returns a nested object claim
func (p Payload) Map(key string) (Payload, bool) {
	switch v := p[key].(type) {
	case map[string]interface{}:
		return Payload(v), true
	case Payload:
		return v, true
	default:
		return nil, false
	}
}

// Audience returns the aud claim, which may be a string or an array
func (p Payload) Audience() []string {
	if s, ok := p.String(ClaimAudience); ok {
		return []string{s}
	}
	aud, _ := p.StringSlice(ClaimAudience)
	return aud
}

// ExpiresAt returns the exp claim as a time
func (p Payload) ExpiresAt() (time.Time, bool) {
	exp, ok := p.Int64(ClaimExpiresAt)
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(exp, 0), true
}

// HasRoleClaims reports whether realm_access or resource_access is present
func (p Payload) HasRoleClaims() bool {
	return p.Has(ClaimRealmAccess) || p.Has(ClaimResourceAccess)
}

// RealmRoles returns realm_access.roles
func (p Payload) RealmRoles() []string {
	realm, ok := p.Map(ClaimRealmAccess)
	if !ok {
		return nil
	}
	roles, _ := realm.StringSlice(ClaimRoles)
	return roles
}

// ResourceRoles returns the roles of every resource_access entry, ordered by resource name
func (p Payload) ResourceRoles() []ResourceRoles {
	access, ok := p.Map(ClaimResourceAccess)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(access))
	for name := range access {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ResourceRoles, 0, len(names))
	for _, name := range names {
		entry, ok := access.Map(name)
		if !ok {
			continue
		}
		roles, _ := entry.StringSlice(ClaimRoles)
		out = append(out, ResourceRoles{Resource: name, Roles: roles})
	}
	return out
}

// Groups returns the groups claim
func (p Payload) Groups() []string {
	groups, _ := p.StringSlice(ClaimGroups)
	return groups
}

// AllPermissions returns realm roles followed by all resource roles
func (p Payload) AllPermissions() []string {
	perms := append([]string{}, p.RealmRoles()...)
	for _, rr := range p.ResourceRoles() {
		perms = append(perms, rr.Roles...)
	}
	return perms
}

// Clone returns a shallow copy
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a new payload holding p's claims overlaid with other's
func (p Payload) Merge(other Payload) Payload {
	out := make(Payload, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// ResourceRoles groups the roles granted on one resource (client)
type ResourceRoles struct {
	Resource string   `json:"resource"`
	Roles    []string `json:"roles"`
}

// Minimal is the non-sensitive subset of ID token claims exposed to pages
type Minimal struct {
	ExpiresAt         *int64 `json:"exp,omitempty"`
	IssuedAt          *int64 `json:"iat,omitempty"`
	Subject           string `json:"sub,omitempty"`
	Issuer            string `json:"iss,omitempty"`
	AuthorizedParty   string `json:"azp,omitempty"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	EmailVerified     *bool  `json:"email_verified,omitempty"`
}

// MinimalFromToken decodes an ID token into its minimal claim set.
// It returns nil when the token is empty or cannot be decoded.
func MinimalFromToken(idToken string) *Minimal {
	payload := DecodeOrNil(idToken)
	if payload == nil {
		return nil
	}
	return payload.Minimal()
}

// Minimal extracts the minimal claim set
func (p Payload) Minimal() *Minimal {
	m := &Minimal{}
	if v, ok := p.Int64(ClaimExpiresAt); ok {
		m.ExpiresAt = &v
	}
	if v, ok := p.Int64(ClaimIssuedAt); ok {
		m.IssuedAt = &v
	}
	if v, ok := p.Bool(ClaimEmailVerified); ok {
		m.EmailVerified = &v
	}
	m.Subject, _ = p.String(ClaimSubject)
	m.Issuer, _ = p.String(ClaimIssuer)
	m.AuthorizedParty, _ = p.String(ClaimAuthorizedParty)
	m.Email, _ = p.String(ClaimEmail)
	m.Name, _ = p.String(ClaimName)
	m.PreferredUsername, _ = p.String(ClaimPreferredUsername)
	return m
}
