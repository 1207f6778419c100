// Package cli provides the gatehouse-roles operator tool.
//
// # Commands
//
// roles: Show the provider role strings of a token and the internal roles
// they map to
//
//	gatehouse-roles roles \
//		--mapping ./roles.yaml \
//		--token-file ./access_token.jwt
//
// The token may also be passed with --token or piped on stdin with
// --token-file -. Without --mapping the built-in table is used.
//
// validate: Check a role mapping file
//
//	gatehouse-roles validate --mapping ./roles.yaml
//
// table: Print the built-in mapping table as YAML, a starting point for a
// custom mapping file
//
//	gatehouse-roles table > roles.yaml
//
// details: Fetch the token details of a running server with a session cookie
// copied from the browser
//
//	gatehouse-roles details \
//		--url https://app.example.com \
//		--cookie "$SESSION_COOKIE"
package cli
