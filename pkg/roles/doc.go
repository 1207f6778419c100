// Package roles turns identity provider role and group names into the small
// internal role vocabulary used to gate pages.
//
// # Overview
//
// There are three internal roles ordered by privilege: employee, manager and
// admin. A higher role implies every lower one, so an admin passes a manager
// requirement.
//
// Provider names are mapped through a Table in two tiers. Explicit entries are
// looked up first by trimmed, lowercased name; if none matches, patterns are
// tried in declaration order. Names that match neither tier are dropped and
// can be listed with Unmapped for diagnostics.
//
// # Usage Example
//
//	mapper := roles.DefaultMapper()
//	extractor := roles.NewExtractor(mapper, "web-app")
//	held := extractor.Extract(payload)
//	if held.HasRole(roles.Manager) {
//		// show the manager panel
//	}
//
// A Reloader can stand in for a Mapper when the table lives in a YAML file
// that operators edit at runtime:
//
//	entries:
//	  - provider_role: ops-lead
//	    role: manager
//	    scope: group
//	patterns:
//	  - pattern: "^team-.*-admins$"
//	    role: admin
//
// # Related Packages
//
//   - pkg/token: claim decoding consumed by Extractor
//   - pkg/gate: role requirements evaluated against a Set
package roles
