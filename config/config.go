package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingRequired is returned when mandatory settings are absent. The
// process must not start serving in that case.
var ErrMissingRequired = errors.New("missing required configuration")

// Token store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// ServerConfig holds all configuration for the server. Keys double as
// environment variable names.
type ServerConfig struct {
	Port           string   `mapstructure:"PORT"`
	AllowedOrigins []string `mapstructure:"ALLOWED_ORIGINS"`
	Environment    string   `mapstructure:"APP_ENV"`
	PublicDir      string   `mapstructure:"PUBLIC_DIR"`

	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string `mapstructure:"GOOGLE_REDIRECT_URI"`

	SessionSecret string        `mapstructure:"SESSION_SECRET"`
	SessionMaxAge time.Duration `mapstructure:"SESSION_MAX_AGE"`

	TokenStore          string        `mapstructure:"TOKEN_STORE"`
	TokenExpirySkew     time.Duration `mapstructure:"TOKEN_EXPIRY_SKEW"`
	TokenRefreshTimeout time.Duration `mapstructure:"TOKEN_REFRESH_TIMEOUT"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	TracingEnabled  bool   `mapstructure:"TRACING_ENABLED"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

var required = []string{
	"GOOGLE_CLIENT_ID",
	"GOOGLE_CLIENT_SECRET",
	"GOOGLE_REDIRECT_URI",
	"SESSION_SECRET",
}

// LoadConfig reads configuration from the environment, an optional config
// file and defaults. An empty configFile searches the default locations for a
// config.yaml; a missing file is not an error.
func LoadConfig(configFile string) (*ServerConfig, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/oauthdemo/")
		v.AddConfigPath("$HOME/.oauthdemo")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	cfg.AllowedOrigins = trimCSV(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults also registers every key so AutomaticEnv picks it up on
// Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "3000")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PUBLIC_DIR", "public")

	v.SetDefault("GOOGLE_CLIENT_ID", "")
	v.SetDefault("GOOGLE_CLIENT_SECRET", "")
	v.SetDefault("GOOGLE_REDIRECT_URI", "")

	v.SetDefault("SESSION_SECRET", "")
	v.SetDefault("SESSION_MAX_AGE", "24h")

	v.SetDefault("TOKEN_STORE", StoreMemory)
	v.SetDefault("TOKEN_EXPIRY_SKEW", "2m")
	v.SetDefault("TOKEN_REFRESH_TIMEOUT", "10s")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", "oauthdemo")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "oauthdemo")
}

// Validate reports every missing mandatory setting at once.
func (c *ServerConfig) Validate() error {
	values := map[string]string{
		"GOOGLE_CLIENT_ID":     c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": c.GoogleClientSecret,
		"GOOGLE_REDIRECT_URI":  c.GoogleRedirectURI,
		"SESSION_SECRET":       c.SessionSecret,
	}

	var missing []string
	for _, key := range required {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingRequired, strings.Join(missing, ", "))
	}

	switch c.TokenStore {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unknown TOKEN_STORE %q", c.TokenStore)
	}

	return nil
}

// Production reports whether the server runs in production mode, which turns
// on secure cookies.
func (c *ServerConfig) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// trimCSV splits comma separated entries and drops empty ones.
func trimCSV(values []string) []string {
	var result []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}
