package oauthecho

import (
	"path/filepath"

	"github.com/labstack/echo/v4"

	"go.pilab.hu/oauthdemo/internal/audit"
	"go.pilab.hu/oauthdemo/internal/federation"
	"go.pilab.hu/oauthdemo/log"
	"go.pilab.hu/oauthdemo/session"
	"go.pilab.hu/oauthdemo/token"
)

// API serves the login flow and the profile endpoint.
type API struct {
	provider  federation.Provider
	tokens    *token.Manager
	sessions  *session.Manager
	logger    log.Logger
	audit     *audit.Logger
	publicDir string
}

// Option configures an API.
type Option func(*API)

// WithAudit records logins and logouts to l.
func WithAudit(l *audit.Logger) Option {
	return func(a *API) {
		a.audit = l
	}
}

// NewAPI creates the API. publicDir holds index.html and dashboard.html.
func NewAPI(
	provider federation.Provider,
	tokens *token.Manager,
	sessions *session.Manager,
	logger log.Logger,
	publicDir string,
	opts ...Option,
) *API {
	if logger == nil {
		logger = log.Nop()
	}
	a := &API{
		provider:  provider,
		tokens:    tokens,
		sessions:  sessions,
		logger:    logger,
		publicDir: publicDir,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RegisterRoutes registers the application routes.
func (a *API) RegisterRoutes(e *echo.Echo) {
	authPath := "/auth/" + a.provider.Name()

	e.GET("/", a.LandingHandler)
	e.GET(authPath, a.LoginHandler)
	e.GET(authPath+"/callback", a.CallbackHandler)
	e.GET("/dashboard", a.DashboardHandler, a.loadSession)
	e.GET("/api/profile", a.ProfileHandler, a.loadSession)
	e.GET("/logout", a.LogoutHandler)

	e.GET("/health", a.HealthHandler)
}

func (a *API) page(name string) string {
	return filepath.Join(a.publicDir, name)
}
