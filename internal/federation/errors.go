package federation

import "errors"

var (
	ErrExchangeCodeFailed    = errors.New("failed to exchange authorization code for token")
	ErrRefreshFailed         = errors.New("failed to refresh access token")
	ErrFetchUserInfoFailed   = errors.New("failed to fetch user info from provider")
	ErrProviderMisconfigured = errors.New("provider is misconfigured")
)
