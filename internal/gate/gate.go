package gate

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session"
	sessionentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/session/entity"
)

type Outcome int

const (
	Allow Outcome = iota
	Deny
	RedirectHome
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case RedirectHome:
		return "redirect_home"
	}
	return "unknown"
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Outcome  Outcome
	Location string
	Session  *sessionentity.Session
	// ClearCookie is set when the presented token is known to be dead, not when the store failed.
	ClearCookie bool
}

const SignInPath = "/auth/signin"

var publicPrefixes = []string{"/auth", "/api/auth", "/health", "/favicon.ico"}

// IsPublic matches the allow-list on segment boundaries; "/" itself is public but not a prefix.
func IsPublic(path string) bool {
	if path == "/" {
		return true
	}
	for _, p := range publicPrefixes {
		if underPrefix(path, p) {
			return true
		}
	}
	return false
}

type Validator interface {
	Validate(ctx context.Context, token string) (*sessionentity.Session, error)
}

type Gate struct {
	sessions Validator
	policy   *Policy
	cookie   session.Cookie
	timeout  time.Duration
	logger   *zap.SugaredLogger
}

func New(sessions Validator, policy *Policy, cookie session.Cookie, timeout time.Duration, logger *zap.SugaredLogger) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{sessions: sessions, policy: policy, cookie: cookie, timeout: timeout, logger: logger}
}

// Decide evaluates one request. token is the session cookie value, possibly empty.
func (g *Gate) Decide(ctx context.Context, path, rawQuery, token string) Decision {
	if IsPublic(path) {
		if path != "/" || token == "" {
			return Decision{Outcome: Allow}
		}
		sess, err := g.resolve(ctx, token)
		if err != nil {
			return Decision{Outcome: Allow}
		}
		return Decision{Outcome: RedirectHome, Location: session.LandingRoute(sess.Role), Session: sess}
	}

	deny := Decision{Outcome: Deny, Location: SignInLocation(path, rawQuery)}
	if token == "" {
		return deny
	}
	sess, err := g.resolve(ctx, token)
	if err != nil {
		deny.ClearCookie = errors.Is(err, session.ErrNoSession)
		return deny
	}
	if !g.policy.Allowed(sess.Role, path) {
		return Decision{Outcome: RedirectHome, Location: session.LandingRoute(sess.Role), Session: sess}
	}
	return Decision{Outcome: Allow, Session: sess}
}

func (g *Gate) resolve(ctx context.Context, token string) (*sessionentity.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	sess, err := g.sessions.Validate(ctx, token)
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		g.logger.Warnw("session resolution failed; denying", "err", err)
	}
	return sess, err
}

// SignInLocation builds the sign-in redirect carrying the original target.
func SignInLocation(path, rawQuery string) string {
	target := path
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return SignInPath + "?" + url.Values{"callbackUrl": {target}}.Encode()
}

// Middleware applies Decide to every request and forwards claims on ALLOW.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := g.cookie.Token(r)
		d := g.Decide(r.Context(), r.URL.Path, r.URL.RawQuery, token)
		metrics.GateDecisions.WithLabelValues(d.Outcome.String()).Inc()

		switch d.Outcome {
		case Deny:
			g.logger.Debugw("gate deny", "path", r.URL.Path)
			if d.ClearCookie {
				g.cookie.Clear(w)
			}
			http.Redirect(w, r, d.Location, http.StatusFound)
			return
		case RedirectHome:
			g.logger.Debugw("gate redirect home", "path", r.URL.Path, "role", d.Session.Role, "location", d.Location)
			http.Redirect(w, r, d.Location, http.StatusFound)
			return
		}

		if d.Session != nil {
			g.cookie.Set(w, token, d.Session.ExpiresAt)
			claims := d.Session.Claims()
			r = r.WithContext(session.WithClaims(r.Context(), &claims))
		}
		next.ServeHTTP(w, r)
	})
}
