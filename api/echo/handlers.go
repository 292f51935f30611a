package oauthecho

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"go.pilab.hu/oauthdemo/internal/audit"
	"go.pilab.hu/oauthdemo/internal/metrics"
	"go.pilab.hu/oauthdemo/log"
	"go.pilab.hu/oauthdemo/token"
)

const (
	loginFailedRedirect = "/?error=auth_failed"
	healthTimeLayout    = "2006-01-02T15:04:05.000Z"
)

// LandingHandler serves the login page.
func (a *API) LandingHandler(c echo.Context) error {
	return c.File(a.page("index.html"))
}

// LoginHandler starts the authorization code flow.
func (a *API) LoginHandler(c echo.Context) error {
	state := uuid.NewString()
	a.sessions.SetState(c.Response(), state)

	return c.Redirect(http.StatusFound, a.provider.AuthCodeURL(state))
}

// CallbackHandler completes the authorization code flow. Every failure ends
// on the landing page with an error marker.
func (a *API) CallbackHandler(c echo.Context) error {
	ctx := c.Request().Context()
	expected := a.sessions.ConsumeState(c.Response(), c.Request())

	fail := func(msg string, err error, fields ...log.Fields) error {
		a.logger.Error(ctx, msg, err, fields...)
		a.audit.Log(ctx, audit.ActionLogin, "", msg, err)
		metrics.LoginsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		return c.Redirect(http.StatusFound, loginFailedRedirect)
	}

	state := c.QueryParam("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		return fail("login state mismatch", errors.New("invalid state"))
	}
	if providerErr := c.QueryParam("error"); providerErr != "" {
		return fail("provider denied authorization", errors.New(providerErr))
	}
	code := c.QueryParam("code")
	if code == "" {
		return fail("callback without authorization code", errors.New("missing code"))
	}

	grant, err := a.provider.Exchange(ctx, code)
	if err != nil {
		return fail("failed to exchange authorization code", err)
	}

	user, err := a.provider.FetchUserInfo(ctx, grant.AccessToken)
	if err != nil {
		return fail("failed to fetch user info", err)
	}
	if user.ID == "" {
		return fail("user info without id", errors.New("empty user id"))
	}

	userID := token.UserID(user.ID)
	if _, err := a.tokens.Save(ctx, userID, grant); err != nil {
		return fail("failed to save tokens", err, log.Fields{"user_id": user.ID})
	}

	if _, err := a.sessions.Issue(ctx, c.Response(), userID, user.Email); err != nil {
		return fail("failed to create session", err, log.Fields{"user_id": user.ID})
	}

	metrics.LoginsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	a.audit.Log(ctx, audit.ActionLogin, user.ID, a.provider.Name(), nil)
	a.logger.Info(ctx, "user logged in", log.Fields{"user_id": user.ID, "email": user.Email})

	return c.Redirect(http.StatusFound, "/dashboard")
}

// DashboardHandler serves the dashboard to logged in users.
func (a *API) DashboardHandler(c echo.Context) error {
	if _, ok := sessionFrom(c); !ok {
		return c.Redirect(http.StatusFound, "/")
	}
	return c.File(a.page("dashboard.html"))
}

// ProfileHandler returns the user's profile and current access token. The
// token is refreshed first when it is about to expire.
func (a *API) ProfileHandler(c echo.Context) error {
	ctx := c.Request().Context()

	sess, ok := sessionFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: msgNotAuthenticated})
	}
	logger := a.logger.With(log.Fields{"user_id": string(sess.UserID)})

	rec, err := a.tokens.GetValidTokens(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, token.ErrNoTokens) || errors.Is(err, token.ErrRefreshFailed) {
			logger.Warn(ctx, "no usable tokens for session", log.Fields{"error": err.Error()})
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: msgInvalidTokens})
		}
		logger.Error(ctx, "failed to load tokens", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msgProfileFailed})
	}

	user, err := a.provider.FetchUserInfo(ctx, rec.AccessToken)
	if err != nil {
		logger.Error(ctx, "failed to fetch profile", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: msgProfileFailed})
	}

	return c.JSON(http.StatusOK, ProfileResponse{
		User: user,
		Tokens: TokenView{
			AccessToken: rec.AccessToken,
			ExpiresIn:   a.tokens.Policy().ExpiresIn(rec),
			Scope:       rec.Scope,
		},
	})
}

// LogoutHandler ends the session and forgets the user's tokens.
func (a *API) LogoutHandler(c echo.Context) error {
	ctx := c.Request().Context()

	if sess, err := a.sessions.Load(c.Request()); err == nil {
		if err := a.tokens.Revoke(ctx, sess.UserID); err != nil {
			a.logger.Error(ctx, "failed to delete tokens", err, log.Fields{"user_id": string(sess.UserID)})
		}
		a.audit.Log(ctx, audit.ActionLogout, string(sess.UserID), "", nil)
	}
	if err := a.sessions.Destroy(c.Response(), c.Request()); err != nil {
		a.logger.Error(ctx, "failed to destroy session", err)
	}

	return c.Redirect(http.StatusFound, "/")
}

// HealthHandler reports liveness.
func (a *API) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "OK",
		Timestamp: time.Now().UTC().Format(healthTimeLayout),
	})
}
