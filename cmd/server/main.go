package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	oauthecho "go.pilab.hu/oauthdemo/api/echo"
	"go.pilab.hu/oauthdemo/config"
	"go.pilab.hu/oauthdemo/internal/audit"
	"go.pilab.hu/oauthdemo/internal/federation"
	"go.pilab.hu/oauthdemo/internal/metrics"
	"go.pilab.hu/oauthdemo/log"
	"go.pilab.hu/oauthdemo/session"
	"go.pilab.hu/oauthdemo/token"
	tokenredis "go.pilab.hu/oauthdemo/token/redis"
	"go.pilab.hu/oauthdemo/tracing"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configFile string

	root := &cobra.Command{
		Use:           "oauthdemo",
		Short:         "Google sign-in demo with server-side token refresh",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configFile)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "path to a config file (default: config.yaml in /etc/oauthdemo, $HOME/.oauthdemo or .)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		l := zerolog.New(os.Stderr).With().Timestamp().Logger()
		l.Fatal().Err(err).Msg("oauthdemo stopped")
	}
}

func run(ctx context.Context, configFile string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)
	if zl, ok := log.Zerolog(appLogger); ok {
		zlog.Logger = zl
	}
	if parseErr != nil {
		appLogger.Warn(ctx, "Invalid LOG_LEVEL configured, defaulting to 'info'", log.Fields{
			"configured_log_level": cfg.LogLevel,
		})
	}

	appLogger.Info(ctx, "Configuration loaded successfully", log.Fields{
		"port":          cfg.Port,
		"environment":   cfg.Environment,
		"token_store":   cfg.TokenStore,
		"expiry_skew":   cfg.TokenExpirySkew.String(),
		"redirect_uri":  cfg.GoogleRedirectURI,
		"tracing":       cfg.TracingEnabled,
		"otel_service":  cfg.OtelServiceName,
		"allowed_hosts": cfg.AllowedOrigins,
	})

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracerProvider(cfg.OtelServiceName, os.Stdout)
		if err != nil {
			return fmt.Errorf("init tracer provider: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				appLogger.Error(shutdownCtx, "TracerProvider shutdown error", err)
			}
		}()
	}

	metrics.Register(prometheus.DefaultRegisterer)

	tokenStore, closeStore, err := newTokenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	provider, err := federation.NewGoogleProvider(federation.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURI,
	})
	if err != nil {
		return fmt.Errorf("configure google provider: %w", err)
	}

	auditLog := audit.New(cfg.OtelServiceName, os.Stdout)

	policy := token.DefaultExpiryPolicy()
	policy.Skew = cfg.TokenExpirySkew
	tokens := token.NewManager(tokenStore, provider,
		token.WithPolicy(policy),
		token.WithRefreshTimeout(cfg.TokenRefreshTimeout),
		token.WithLogger(appLogger.With(log.Fields{"component": "tokens"})),
		token.WithPurgeHook(func(ctx context.Context, id token.UserID, cause error) {
			auditLog.Log(ctx, audit.ActionTokensPurge, string(id), "refresh failed", cause)
		}),
	)

	sessionStore := session.NewMemoryStore(cfg.SessionMaxAge)
	defer func() { _ = sessionStore.Close() }()
	codec, err := session.NewCodec(cfg.SessionSecret)
	if err != nil {
		return fmt.Errorf("configure sessions: %w", err)
	}
	sessions := session.NewManager(sessionStore, codec, cfg.SessionMaxAge, cfg.Production())

	api := oauthecho.NewAPI(provider, tokens, sessions, appLogger, cfg.PublicDir,
		oauthecho.WithAudit(auditLog),
	)
	e := oauthecho.NewServer(oauthecho.ServerOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		PublicDir:      cfg.PublicDir,
		HSTS:           cfg.Production(),
		Gatherer:       prometheus.DefaultGatherer,
	}, appLogger, api)

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info(ctx, fmt.Sprintf("HTTP server listening on port %s", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	appLogger.Info(context.Background(), "Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}
	appLogger.Info(shutdownCtx, "Server gracefully stopped.")

	return nil
}

// newTokenStore builds the configured token store. Records outlive their
// access token by the session lifetime so a refresh stays possible.
func newTokenStore(ctx context.Context, cfg *config.ServerConfig) (token.Store, func(), error) {
	switch cfg.TokenStore {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		return tokenredis.NewStore(client, cfg.RedisPrefix, cfg.SessionMaxAge), func() { _ = client.Close() }, nil
	default:
		store := token.NewMemoryStore(cfg.SessionMaxAge)
		return store, func() { _ = store.Close() }, nil
	}
}
