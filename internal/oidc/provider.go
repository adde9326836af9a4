package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	ErrNotConfigured   = errors.New("oauth provider not configured")
	ErrUnverifiedEmail = errors.New("provider email not verified")
	ErrExchange        = errors.New("oauth code exchange failed")
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

// Provider is an OAuth identity provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (UserInfo, error)
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// HostedDomain is sent as the hd hint so the account chooser only offers institutional accounts.
	HostedDomain string
}

type GoogleProvider struct {
	conf        *oauth2.Config
	hd          string
	userInfoURL string
}

func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrNotConfigured
	}
	return &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
		hd:          cfg.HostedDomain,
		userInfoURL: googleUserInfoURL,
	}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) AuthCodeURL(state string) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("prompt", "select_account")}
	if p.hd != "" {
		opts = append(opts, oauth2.SetAuthURLParam("hd", p.hd))
	}
	return p.conf.AuthCodeURL(state, opts...)
}

// Exchange trades the code for a token and fetches userinfo. The email must be verified by Google.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (UserInfo, error) {
	tok, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return UserInfo{}, err
	}
	resp, err := p.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("%w: userinfo: %v", ErrExchange, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return UserInfo{}, fmt.Errorf("%w: userinfo status %d: %s", ErrExchange, resp.StatusCode, body)
	}
	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return UserInfo{}, fmt.Errorf("%w: decode userinfo: %v", ErrExchange, err)
	}
	if info.Email == "" || !info.EmailVerified {
		return UserInfo{}, ErrUnverifiedEmail
	}
	return info, nil
}

// ProviderName tolerates a nil provider for logging and metrics labels.
func ProviderName(p Provider) string {
	if p == nil {
		return "google"
	}
	return p.Name()
}
