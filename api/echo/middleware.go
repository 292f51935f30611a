package oauthecho

import (
	"errors"

	"github.com/labstack/echo/v4"

	"go.pilab.hu/oauthdemo/session"
)

const sessionContextKey = "session"

// loadSession attaches the request's session to the context when there is
// one. Requests without a session pass through; handlers decide.
func (a *API) loadSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := a.sessions.Load(c.Request())
		switch {
		case err == nil:
			c.Set(sessionContextKey, sess)
		case !errors.Is(err, session.ErrNoSession):
			a.logger.Error(c.Request().Context(), "failed to load session", err)
		}
		return next(c)
	}
}

func sessionFrom(c echo.Context) (*session.Session, bool) {
	sess, ok := c.Get(sessionContextKey).(*session.Session)
	return sess, ok && sess != nil
}
