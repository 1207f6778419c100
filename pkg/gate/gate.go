// Package gate decides whether a session may see a page.
//
// Decisions are synchronous and read only the roles already attached to the
// session; the gate never refreshes tokens. Lifecycle work happens earlier in
// the request chain.
package gate

import (
	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// Decision is the outcome of an access check
type Decision int

const (
	Allow Decision = iota
	RedirectToLogin
	RedirectToUnauthorized
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_login"
	case RedirectToUnauthorized:
		return "redirect_unauthorized"
	default:
		return "unknown"
	}
}

// Authorize evaluates a role requirement against a session. An empty
// requirement only needs an active session; otherwise some held role must
// imply some required role.
func Authorize(st *session.State, required roles.Set) Decision {
	if !st.Active() {
		return RedirectToLogin
	}
	if st.Roles.Satisfies(required) {
		return Allow
	}
	return RedirectToUnauthorized
}
