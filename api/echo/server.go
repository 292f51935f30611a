package oauthecho

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.pilab.hu/oauthdemo/log"
)

// ServerOptions configures NewServer.
type ServerOptions struct {
	AllowedOrigins []string
	PublicDir      string

	// HSTS sends Strict-Transport-Security. Enable only behind HTTPS.
	HSTS bool

	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewServer builds the echo instance with the common middleware stack and
// the API routes.
func NewServer(opts ServerOptions, logger log.Logger, api *API) *echo.Echo {
	if logger == nil {
		logger = log.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(SecurityHeaders(opts.HSTS))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"ip":         v.RemoteIP,
				"request_id": v.RequestID,
			}
			if v.Error != nil {
				logger.Error(c.Request().Context(), "HTTP request", v.Error, fields)
				return nil
			}
			logger.Debug(c.Request().Context(), "HTTP request", fields)
			return nil
		},
	}))
	if len(opts.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     opts.AllowedOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			AllowCredentials: true,
		}))
	}

	if opts.PublicDir != "" {
		e.Static("/", opts.PublicDir)
	}

	if opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	if api != nil {
		api.RegisterRoutes(e)
	}

	return e
}
