package oauthecho

import "go.pilab.hu/oauthdemo/internal/federation"

// ErrorResponse is the body of every JSON error.
type ErrorResponse struct {
	Error string `json:"error"`
}

// TokenView is the client visible part of a token record.
type TokenView struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
}

// ProfileResponse is returned by GET /api/profile.
type ProfileResponse struct {
	User   *federation.UserInfo `json:"user"`
	Tokens TokenView            `json:"tokens"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

const (
	msgNotAuthenticated = "Not authenticated"
	msgInvalidTokens    = "Invalid or expired tokens"
	msgProfileFailed    = "Failed to get profile"
)
