// Package routing decides where a proxied request goes upstream and which
// credential authorizes it.
package routing

import (
	"net/url"
	"strings"

	"messaging-proxy-go/internal/config"
	"messaging-proxy-go/internal/model"
)

// Selector picks the outbound credential for an upstream path.
type Selector struct {
	adminToken  string
	adminRoutes []string
}

// NewSelector creates a Selector from the admin token and the list of
// administrative path prefixes.
func NewSelector(adminToken string, adminRoutes []string) *Selector {
	return &Selector{
		adminToken:  adminToken,
		adminRoutes: append([]string(nil), adminRoutes...),
	}
}

// NewSelectorFromConfig creates a Selector from the upstream settings.
func NewSelectorFromConfig(cfg *config.Config) *Selector {
	return NewSelector(cfg.Upstream.AdminToken, cfg.Upstream.AdminRoutes)
}

// Select returns the routing decision for upstreamPath.
//
// Administrative routes always use the admin token, even when the caller
// supplied an instance token. Any other route uses the instance token when one
// is present and falls back to the admin token otherwise.
func (s *Selector) Select(upstreamPath, instanceToken string) model.RoutingDecision {
	instanceToken = strings.TrimSpace(instanceToken)

	if s.IsAdminRoute(upstreamPath) || instanceToken == "" {
		return model.RoutingDecision{
			UpstreamPath: upstreamPath,
			HeaderName:   model.HeaderAdminToken,
			HeaderValue:  s.adminToken,
			Class:        model.CredentialAdmin,
		}
	}

	return model.RoutingDecision{
		UpstreamPath: upstreamPath,
		HeaderName:   model.HeaderInstanceToken,
		HeaderValue:  instanceToken,
		Class:        model.CredentialInstance,
	}
}

// IsAdminRoute reports whether path falls under an administrative prefix.
// path may be percent-encoded; the match runs on its decoded form so an
// encoded spelling of an admin route still selects the admin token.
func (s *Selector) IsAdminRoute(path string) bool {
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}
	for _, prefix := range s.adminRoutes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ResolvePath strips everything up to and including the first occurrence of
// routePrefix from fullPath and returns the remainder as an absolute path with
// runs of slashes collapsed. It returns "/" when routePrefix is not present.
//
// fullPath is expected in escaped form (url.URL.EscapedPath). Escape sequences
// are copied through untouched, so %2F is not treated as a separator.
func ResolvePath(fullPath, routePrefix string) string {
	idx := strings.Index(fullPath, routePrefix)
	if routePrefix == "" || idx < 0 {
		return "/"
	}
	rest := fullPath[idx+len(routePrefix):]

	var b strings.Builder
	b.Grow(len(rest) + 1)
	b.WriteByte('/')
	prev := byte('/')
	for i := 0; i < len(rest); i++ {
		ch := rest[i]
		if ch == '/' && prev == '/' {
			continue
		}
		b.WriteByte(ch)
		prev = ch
	}
	return b.String()
}
