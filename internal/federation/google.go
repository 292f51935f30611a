package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	googleOAuth2 "golang.org/x/oauth2/google"

	"go.pilab.hu/oauthdemo/token"
)

// GoogleUserInfoEndpoint is the v2 userinfo endpoint.
const GoogleUserInfoEndpoint = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleScopes are the only permissions requested: basic profile and email.
var GoogleScopes = []string{
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/userinfo.email",
}

// GoogleConfig configures a GoogleProvider. Endpoint, UserInfoURL and
// HTTPClient are optional and exist mostly for tests.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
}

// GoogleProvider implements Provider for Google.
type GoogleProvider struct {
	conf        *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogleProvider creates a GoogleProvider. Client id, secret and redirect
// URL are required.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RedirectURL == "" {
		return nil, ErrProviderMisconfigured
	}

	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		endpoint = googleOAuth2.Endpoint
	}
	userInfoURL := cfg.UserInfoURL
	if userInfoURL == "" {
		userInfoURL = GoogleUserInfoEndpoint
	}

	return &GoogleProvider{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       append([]string(nil), GoogleScopes...),
			Endpoint:     endpoint,
		},
		userInfoURL: userInfoURL,
		httpClient:  cfg.HTTPClient,
	}, nil
}

// Name implements Provider.
func (g *GoogleProvider) Name() string {
	return "google"
}

// AuthCodeURL implements Provider.
func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange implements Provider.
func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*token.Grant, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrExchangeCodeFailed)
	}

	tok, err := g.conf.Exchange(g.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeCodeFailed, err)
	}

	return grantFromToken(tok), nil
}

// Refresh implements Provider. The refresh token is only sent to Google; the
// returned grant carries a refresh token only if Google rotated it.
func (g *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (*token.Grant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrRefreshFailed)
	}

	src := g.conf.TokenSource(g.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	grant := grantFromToken(tok)
	if grant.RefreshToken == refreshToken {
		grant.RefreshToken = ""
	}

	return grant, nil
}

// FetchUserInfo implements Provider.
func (g *GoogleProvider) FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	client := oauth2.NewClient(g.clientContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchUserInfoFailed, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchUserInfoFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrFetchUserInfoFailed, resp.StatusCode, string(body))
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal Google user info: %w", ErrFetchUserInfoFailed, err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("%w: response has no user id", ErrFetchUserInfoFailed)
	}

	return &info, nil
}

func (g *GoogleProvider) clientContext(ctx context.Context) context.Context {
	if g.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
}

// grantFromToken keeps the raw expiry fields so the expiry policy can decide
// which one to trust.
func grantFromToken(tok *oauth2.Token) *token.Grant {
	grant := &token.Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.Extra("expires_in"),
	}
	if !tok.Expiry.IsZero() {
		grant.ExpiryDate = tok.Expiry
	} else {
		grant.ExpiryDate = tok.Extra("expiry_date")
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		grant.Scope = scope
	}
	return grant
}

var _ Provider = (*GoogleProvider)(nil)
