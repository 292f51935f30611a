package federation

import (
	"context"

	"go.pilab.hu/oauthdemo/token"
)

// UserInfo is the profile of the authenticated user as reported by the
// provider.
type UserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Picture       string `json:"picture,omitempty"`
	Locale        string `json:"locale,omitempty"`
}

// Provider is an external OAuth2 identity provider. It owns the wire protocol;
// callers only see grants and profiles.
type Provider interface {
	// Name returns the provider identifier used in routes (e.g. "google").
	Name() string

	// AuthCodeURL returns the consent URL the user is redirected to. It asks
	// for offline access and forces the consent screen so that a refresh
	// token is issued on every login.
	AuthCodeURL(state string) string

	// Exchange trades a one-time authorization code for the initial grant.
	Exchange(ctx context.Context, code string) (*token.Grant, error)

	// Refresh mints a new access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*token.Grant, error)

	// FetchUserInfo returns the profile belonging to an access token.
	FetchUserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}
