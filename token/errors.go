package token

import "errors"

var (
	// ErrNotFound is returned by a Store when no record exists for a user.
	ErrNotFound = errors.New("token record not found")

	// ErrNoTokens is returned by the Manager when the user has no token record.
	// Callers treat it as an unauthenticated session.
	ErrNoTokens = errors.New("no tokens for user")

	// ErrRefreshFailed is returned by the Manager when the provider rejected the
	// refresh. The record has already been purged; the user must log in again.
	ErrRefreshFailed = errors.New("token refresh failed")
)
