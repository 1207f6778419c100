package roles

import (
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/token"
)

// Extractor derives internal roles from token claims
type Extractor struct {
	mapper   RoleMapper
	clientID string
}

// NewExtractor creates an extractor. clientID selects the resource_access
// entry read from provider profiles in ExtractMerged.
func NewExtractor(mapper RoleMapper, clientID string) *Extractor {
	return &Extractor{mapper: mapper, clientID: clientID}
}

// Candidates returns the provider role strings of a payload: realm roles,
// then every resource's roles, then groups. Duplicates are removed keeping
// the first occurrence.
func (e *Extractor) Candidates(p token.Payload) []string {
	var raw []string
	raw = append(raw, p.RealmRoles()...)
	for _, rr := range p.ResourceRoles() {
		raw = append(raw, rr.Roles...)
	}
	raw = append(raw, p.Groups()...)
	return dedupe(raw)
}

// Extract maps the candidates of a payload to internal roles
func (e *Extractor) Extract(p token.Payload) Set {
	return e.mapper.MapMany(e.Candidates(p))
}

// Unmapped returns the candidates of a payload with no internal mapping
func (e *Extractor) Unmapped(p token.Payload) []string {
	return e.mapper.Unmapped(e.Candidates(p))
}

// ExtractMerged derives roles at login from the freshly issued token and the
// provider profile. The profile contributes its realm roles and the roles of
// this client's resource_access entry. Provider strings are deduplicated
// before mapping.
func (e *Extractor) ExtractMerged(tok, profile token.Payload) Set {
	return e.mapper.MapMany(e.MergedCandidates(tok, profile))
}

// MergedCandidates returns the deduplicated provider strings used by ExtractMerged
func (e *Extractor) MergedCandidates(tok, profile token.Payload) []string {
	raw := e.Candidates(tok)
	raw = append(raw, profile.RealmRoles()...)
	if e.clientID != "" {
		if access, ok := profile.Map(token.ClaimResourceAccess); ok {
			if client, ok := access.Map(e.clientID); ok {
				clientRoles, _ := client.StringSlice(token.ClaimRoles)
				raw = append(raw, clientRoles...)
			}
		}
	}
	return dedupe(raw)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
