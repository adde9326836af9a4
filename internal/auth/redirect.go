package auth

import (
	"net/url"
	"strings"

	accountentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session"
)

// SafeCallback returns target only when it is a same-origin path outside the auth pages.
func SafeCallback(target string) string {
	if target == "" || target[0] != '/' || strings.HasPrefix(target, "//") || strings.Contains(target, "\\") {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return ""
	}
	if u.Path == "/auth" || strings.HasPrefix(u.Path, "/auth/") || strings.HasPrefix(u.Path, "/api/auth/") {
		return ""
	}
	return target
}

// Destination is where a freshly signed-in user goes.
func Destination(callbackURL string, role accountentity.Role) string {
	if safe := SafeCallback(callbackURL); safe != "" && safe != "/" {
		return safe
	}
	return session.LandingRoute(role)
}
