package oidc

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidState = errors.New("invalid oauth state")

const stateIssuer = "election-auth"

type stateClaims struct {
	ReturnTo string `json:"rt,omitempty"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// StateSigner binds the OAuth round trip to the browser that started it.
// The state is an HS256 token carrying the return path and a nonce that must match the nonce cookie.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewStateSigner(secret string, ttl time.Duration) (*StateSigner, error) {
	if secret == "" {
		return nil, ErrNotConfigured
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign returns the state parameter and the nonce to store in a cookie.
func (s *StateSigner) Sign(returnTo string) (state string, nonce string, err error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	nonce = base64.RawURLEncoding.EncodeToString(buf)
	now := s.now()
	claims := stateClaims{
		ReturnTo: returnTo,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    stateIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	state, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", err
	}
	return state, nonce, nil
}

// Verify checks signature, expiry and nonce, and returns the return path.
func (s *StateSigner) Verify(state, nonce string) (string, error) {
	if state == "" || nonce == "" {
		return "", ErrInvalidState
	}
	claims := &stateClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidState
	}
	if claims.Nonce != nonce {
		return "", ErrInvalidState
	}
	return claims.ReturnTo, nil
}
