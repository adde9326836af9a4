package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidCSRF = errors.New("invalid csrf token")

const (
	csrfCookieName = "csrf-token"
	csrfIssuer     = "election-auth-csrf"
	csrfField      = "csrfToken"
)

type csrfClaims struct {
	Token string `json:"csrf"`
	jwt.RegisteredClaims
}

// CSRF issues double-submit tokens. The cookie carries an HS256 token wrapping
// the raw value; forms echo the raw value back in csrfToken.
type CSRF struct {
	secret []byte
	secure bool
	ttl    time.Duration
	now    func() time.Time
}

// NewCSRF signs with secret. An empty secret gets a random per-process key, so
// outstanding forms stop validating after a restart.
func NewCSRF(secret string, secure bool) (*CSRF, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	return &CSRF{secret: key, secure: secure, ttl: 24 * time.Hour, now: time.Now}, nil
}

// Token returns the token bound to the request's cookie, setting a fresh
// cookie when there is none or it no longer verifies.
func (c *CSRF) Token(w http.ResponseWriter, r *http.Request) (string, error) {
	if ck, err := r.Cookie(csrfCookieName); err == nil {
		if tok, err := c.parse(ck.Value); err == nil {
			return tok, nil
		}
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)
	now := c.now()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, csrfClaims{
		Token: tok,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    csrfIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}).SignedString(c.secret)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return tok, nil
}

// Verify checks the submitted value against the token in the signed cookie.
func (c *CSRF) Verify(r *http.Request, submitted string) error {
	if submitted == "" {
		return ErrInvalidCSRF
	}
	ck, err := r.Cookie(csrfCookieName)
	if err != nil {
		return ErrInvalidCSRF
	}
	tok, err := c.parse(ck.Value)
	if err != nil {
		return ErrInvalidCSRF
	}
	if subtle.ConstantTimeCompare([]byte(tok), []byte(submitted)) != 1 {
		return ErrInvalidCSRF
	}
	return nil
}

func (c *CSRF) parse(value string) (string, error) {
	claims := &csrfClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(csrfIssuer),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid || claims.Token == "" {
		return "", ErrInvalidCSRF
	}
	return claims.Token, nil
}
