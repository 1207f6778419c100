package gate

import (
	"net/url"
	"sort"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/roles"
)

// Page paths
const (
	HomePath         = "/"
	LoginPath        = "/login"
	LogoutPath       = "/logout"
	UnauthorizedPath = "/unauthorized"
	AuthErrorPath    = "/auth/error"
	ProfilePath      = "/profile"
	SecuredPath      = "/secured"
	AdminPath        = "/admin"
	ManagerPath      = "/manager"
)

// Rule protects a path and everything below it. "/" protects only itself.
type Rule struct {
	Path     string
	Required roles.Set
}

// Policy is the protected-route table
type Policy struct {
	rules []Rule
}

// DefaultPolicy protects the dashboard pages
func DefaultPolicy() *Policy {
	return NewPolicy(
		Rule{Path: HomePath},
		Rule{Path: ProfilePath},
		Rule{Path: SecuredPath},
		Rule{Path: ManagerPath, Required: roles.NewSet(roles.Manager, roles.Admin)},
		Rule{Path: AdminPath, Required: roles.NewSet(roles.Admin)},
	)
}

// NewPolicy builds a policy. The longest matching path wins.
func NewPolicy(rules ...Rule) *Policy {
	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Path) > len(sorted[j].Path)
	})
	return &Policy{rules: sorted}
}

// Lookup returns the rule governing path
func (p *Policy) Lookup(path string) (Rule, bool) {
	path = strings.ToLower(path)
	for _, r := range p.rules {
		rp := strings.ToLower(r.Path)
		if rp == HomePath {
			if path == HomePath || path == "" {
				return r, true
			}
			continue
		}
		if path == rp || strings.HasPrefix(path, strings.TrimSuffix(rp, "/")+"/") {
			return r, true
		}
	}
	return Rule{}, false
}

// IsProtected reports whether path requires a session
func (p *Policy) IsProtected(path string) bool {
	_, ok := p.Lookup(path)
	return ok
}

// LoginRedirectURL returns where to send a user after sign-in
func LoginRedirectURL(callback string) string {
	if callback != "" && callback != LoginPath {
		return callback
	}
	return HomePath
}

// SafeRedirect resolves a post-login target against the application base URL.
// Relative targets are joined to base, absolute targets must share base's
// origin, and anything else falls back to base.
func SafeRedirect(base *url.URL, target string) string {
	if target == "" {
		return base.String()
	}
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") {
		return strings.TrimSuffix(base.String(), "/") + target
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return base.String()
	}
	if strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host) {
		return u.String()
	}
	return base.String()
}
