package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/account"
	accountentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/account/entity"
	auditentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/oidc"
	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session"
	sessionentity "github.com/ovaphlow/pitchfork/service-election-auth/internal/session/entity"
)

const (
	nonceCookie   = "oauth-nonce"
	nonceCookieTo = "/api/auth/callback"
	nonceTTL      = 10 * time.Minute
)

type Authenticator interface {
	AuthenticatePassword(ctx context.Context, studentNumber, password string) (accountentity.Identity, error)
	AuthenticateOAuth(ctx context.Context, a account.Assertion) (accountentity.Identity, error)
	Domain() string
}

type Sessions interface {
	Issue(ctx context.Context, ident accountentity.Identity) (string, *sessionentity.Session, error)
	Validate(ctx context.Context, token string) (*sessionentity.Session, error)
	Revoke(ctx context.Context, token string) error
}

type Recorder interface {
	Record(ctx context.Context, userID string, action auditentity.Action, details string)
}

// Handler serves the sign-in pages and the /api/auth endpoints.
type Handler struct {
	accounts Authenticator
	sessions Sessions
	// provider and state are nil when Google sign-in is not configured.
	provider oidc.Provider
	state    *oidc.StateSigner
	csrf     *CSRF
	cookie   session.Cookie
	audit    Recorder
	logger   *zap.SugaredLogger
}

func NewHandler(accounts Authenticator, sessions Sessions, provider oidc.Provider, state *oidc.StateSigner, csrf *CSRF, cookie session.Cookie, audit Recorder, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		accounts: accounts,
		sessions: sessions,
		provider: provider,
		state:    state,
		csrf:     csrf,
		cookie:   cookie,
		audit:    audit,
		logger:   logger,
	}
}

func (h *Handler) googleEnabled() bool {
	return h.provider != nil && h.state != nil
}

// SignInPage renders the sign-in form, or forwards an already signed-in user.
func (h *Handler) SignInPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	callbackURL := SafeCallback(q.Get("callbackUrl"))
	if token := h.cookie.Token(r); token != "" {
		if sess, err := h.sessions.Validate(r.Context(), token); err == nil {
			http.Redirect(w, r, Destination(callbackURL, sess.Role), http.StatusFound)
			return
		}
	}
	token, err := h.csrf.Token(w, r)
	if err != nil {
		h.logger.Errorw("csrf token failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	view := signInView{
		CSRFToken:     token,
		Error:         signInMessage(q.Get("error"), h.accounts.Domain()),
		CallbackURL:   callbackURL,
		Domain:        h.accounts.Domain(),
		GoogleEnabled: h.googleEnabled(),
	}
	if err := render(w, http.StatusOK, signInTmpl, view); err != nil {
		h.logger.Warnw("render sign-in page failed", "err", err)
	}
}

func (h *Handler) ErrorPage(w http.ResponseWriter, r *http.Request) {
	code := pageCode(r.URL.Query().Get("error"))
	status := http.StatusOK
	if code == CodeConfiguration {
		status = http.StatusInternalServerError
	}
	if err := render(w, status, errorTmpl, errorPageInfo(code, h.accounts.Domain())); err != nil {
		h.logger.Warnw("render error page failed", "err", err)
	}
}

// ErrorRedirect forwards /api/auth/error?error=X to the error page.
func (h *Handler) ErrorRedirect(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("error")
	if raw != "" {
		h.logger.Infow("authentication error reported", "error", raw)
	}
	http.Redirect(w, r, "/auth/error?"+url.Values{"error": {string(pageCode(raw))}}.Encode(), http.StatusFound)
}

// GoogleStart begins the OAuth round trip with a signed state and a nonce cookie.
func (h *Handler) GoogleStart(w http.ResponseWriter, r *http.Request) {
	if !h.googleEnabled() {
		h.fail(w, r, oidc.ProviderName(h.provider), oidc.ErrNotConfigured, "")
		return
	}
	state, nonce, err := h.state.Sign(SafeCallback(r.URL.Query().Get("callbackUrl")))
	if err != nil {
		h.fail(w, r, h.provider.Name(), err, "")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     nonceCookie,
		Value:    nonce,
		Path:     nonceCookieTo,
		MaxAge:   int(nonceTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	if !h.googleEnabled() {
		h.fail(w, r, oidc.ProviderName(h.provider), oidc.ErrNotConfigured, "")
		return
	}
	provider := h.provider.Name()
	q := r.URL.Query()
	nonce := ""
	if c, err := r.Cookie(nonceCookie); err == nil {
		nonce = c.Value
	}
	http.SetCookie(w, &http.Cookie{Name: nonceCookie, Path: nonceCookieTo, MaxAge: -1, HttpOnly: true, Secure: h.cookie.Secure})

	returnTo, err := h.state.Verify(q.Get("state"), nonce)
	if err != nil {
		h.fail(w, r, provider, err, "")
		return
	}
	if e := q.Get("error"); e != "" {
		// the user cancelled at the provider or the provider refused
		h.logger.Infow("provider returned error", "provider", provider, "error", e)
		code := oidc.ErrExchange
		if e == "access_denied" {
			code = account.ErrAccessDenied
		}
		h.fail(w, r, provider, code, returnTo)
		return
	}

	info, err := h.provider.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		h.fail(w, r, provider, err, returnTo)
		return
	}
	ident, err := h.accounts.AuthenticateOAuth(r.Context(), account.Assertion{Email: info.Email, Name: info.Name, Picture: info.Picture})
	if err != nil {
		h.fail(w, r, provider, err, returnTo)
		return
	}
	h.complete(w, r, ident, returnTo)
}

// CredentialsCallback handles the student-number form POST.
func (h *Handler) CredentialsCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.fail(w, r, account.ProviderStudentNumber, account.ErrMissingCredentials, "")
		return
	}
	callbackURL := SafeCallback(r.PostForm.Get("callbackUrl"))
	if err := h.csrf.Verify(r, r.PostForm.Get(csrfField)); err != nil {
		h.fail(w, r, account.ProviderStudentNumber, err, callbackURL)
		return
	}
	ident, err := h.accounts.AuthenticatePassword(r.Context(), r.PostForm.Get("studentNumber"), r.PostForm.Get("password"))
	if errors.Is(err, account.ErrAccountDisabled) {
		// a disabled local account looks like any other failed sign-in
		h.logger.Infow("sign-in rejected", "provider", account.ProviderStudentNumber, "err", err)
		metrics.SigninAttempts.WithLabelValues(account.ProviderStudentNumber, string(CodeCredentialsSignin)).Inc()
		h.redirectSignIn(w, r, CodeCredentialsSignin, callbackURL)
		return
	}
	if err != nil {
		h.fail(w, r, account.ProviderStudentNumber, err, callbackURL)
		return
	}
	h.complete(w, r, ident, callbackURL)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request, ident accountentity.Identity, callbackURL string) {
	token, sess, err := h.sessions.Issue(r.Context(), ident)
	if err != nil {
		h.fail(w, r, ident.Provider, err, callbackURL)
		return
	}
	h.cookie.Set(w, token, sess.ExpiresAt)
	h.audit.Record(r.Context(), sess.UserID, auditentity.ActionLogin, "Signed in with "+ident.Provider)
	metrics.SigninAttempts.WithLabelValues(ident.Provider, "success").Inc()
	h.logger.Infow("signed in", "account_id", sess.UserID, "provider", ident.Provider, "role", sess.Role)
	http.Redirect(w, r, Destination(callbackURL, sess.Role), http.StatusFound)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, provider string, err error, callbackURL string) {
	code := Classify(err)
	if code == CodeCallback || code == CodeConfiguration {
		h.logger.Warnw("sign-in failed", "provider", provider, "code", code, "err", err)
	} else {
		h.logger.Infow("sign-in rejected", "provider", provider, "code", code, "err", err)
	}
	metrics.SigninAttempts.WithLabelValues(provider, string(code)).Inc()
	if onErrorPage(code) {
		http.Redirect(w, r, "/auth/error?"+url.Values{"error": {string(code)}}.Encode(), http.StatusFound)
		return
	}
	h.redirectSignIn(w, r, code, callbackURL)
}

func (h *Handler) redirectSignIn(w http.ResponseWriter, r *http.Request, code Code, callbackURL string) {
	v := url.Values{"error": {string(code)}}
	if callbackURL != "" {
		v.Set("callbackUrl", callbackURL)
	}
	http.Redirect(w, r, "/auth/signin?"+v.Encode(), http.StatusFound)
}

// CSRFToken returns the token forms must echo in csrfToken.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.Token(w, r)
	if err != nil {
		h.logger.Errorw("csrf token failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(map[string]string{csrfField: token})
}

// SignOutPage asks for confirmation; only the POST it submits signs out.
func (h *Handler) SignOutPage(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.Token(w, r)
	if err != nil {
		h.logger.Errorw("csrf token failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := render(w, http.StatusOK, signOutTmpl, signOutView{CSRFToken: token}); err != nil {
		h.logger.Warnw("render sign-out page failed", "err", err)
	}
}

// SignOut destroys the session and clears the cookie. Unknown tokens are fine,
// a missing or mismatched csrfToken sends the user back to the confirmation page.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || h.csrf.Verify(r, r.PostForm.Get(csrfField)) != nil {
		h.logger.Infow("sign-out rejected", "err", ErrInvalidCSRF)
		http.Redirect(w, r, "/api/auth/signout", http.StatusSeeOther)
		return
	}
	token := h.cookie.Token(r)
	if token != "" {
		if sess, err := h.sessions.Validate(r.Context(), token); err == nil {
			h.audit.Record(r.Context(), sess.UserID, auditentity.ActionLogout, "Signed out")
		}
		if err := h.sessions.Revoke(r.Context(), token); err != nil {
			h.logger.Warnw("session revoke failed", "err", err)
		} else {
			metrics.SessionsRevoked.Inc()
		}
	}
	h.cookie.Clear(w)
	http.Redirect(w, r, "/auth/signin", http.StatusFound)
}

type sessionResponse struct {
	User    *sessionentity.Claims `json:"user,omitempty"`
	Expires string                `json:"expires,omitempty"`
}

// Session returns the current claims, or {} when signed out.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	resp := sessionResponse{}
	if token := h.cookie.Token(r); token != "" {
		sess, err := h.sessions.Validate(r.Context(), token)
		switch {
		case err == nil:
			claims := sess.Claims()
			resp.User = &claims
			resp.Expires = sess.ExpiresAt.UTC().Format(time.RFC3339)
		case errors.Is(err, session.ErrNoSession):
			h.cookie.Clear(w)
		default:
			h.logger.Warnw("session lookup failed", "err", err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	_ = json.NewEncoder(w).Encode(resp)
}
