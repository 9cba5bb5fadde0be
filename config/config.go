// Package config loads this provider's process configuration from the
// environment, following the same caarlos0/env-plus-godotenv idiom as
// the rest of the corpus: a .env file is loaded first (if present) so
// local development needs no shell exports, then struct tags declare
// every variable's name, default, and required-ness in one place.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full set of environment-driven settings this provider
// reads at startup. Nothing here is reloaded at runtime: a config
// change means a restart.
type Config struct {
	// Issuer is this provider's own issuer URL, used both as the `iss`
	// claim on every token it mints and as the discovery document's
	// base.
	Issuer string `env:"ISSUER,required"`

	// ListenAddr is the address the HTTP server binds.
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`

	// StorageBackend selects the storage.Gateway implementation:
	// "memory" or "dynamodb".
	StorageBackend      string `env:"STORAGE_BACKEND" envDefault:"memory"`
	DynamoDBTablePrefix string `env:"DYNAMODB_TABLE_PREFIX" envDefault:""`
	DynamoDBEndpoint    string `env:"DYNAMODB_ENDPOINT" envDefault:""`
	DynamoDBRegion      string `env:"DYNAMODB_REGION" envDefault:"us-east-1"`

	// RateLimitBackend selects the ratelimit.Limiter implementation:
	// "memory" or "redis".
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`
	RedisAddr        string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword    string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB          int    `env:"REDIS_DB" envDefault:"0"`

	// RateLimitWindow/RateLimitMax bound the token, authorize and login
	// endpoints' fixed-window request budget.
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
	RateLimitMax    int64         `env:"RATE_LIMIT_MAX" envDefault:"60"`

	// AccessTokenTTL/RefreshTokenTTL/AuthCodeTTL bound the lifetime of
	// each token kind this provider mints; ID tokens take AccessTokenTTL.
	// IDTokenTTL is parsed but nothing reads it.
	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	IDTokenTTL       time.Duration `env:"ID_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	AuthCodeTTL      time.Duration `env:"AUTH_CODE_TTL" envDefault:"10m"`
	SessionTTL       time.Duration `env:"SESSION_TTL" envDefault:"900s"`
	KeyRotationEvery time.Duration `env:"KEY_ROTATION_EVERY" envDefault:"2160h"`

	// AllowedOrigins is the CORS allow-list applied to discovery, keys,
	// token, introspect, revoke, and userinfo. Empty disables CORS entirely.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	// AdminToken authenticates requests to the /admin/* client
	// management surface. Required: there is no admin surface without
	// it, by design.
	AdminToken string `env:"ADMIN_TOKEN,required"`

	// Federated identity provider credentials. Any provider left with
	// an empty ClientID is simply not registered.
	GoogleClientID        string `env:"GOOGLE_CLIENT_ID" envDefault:""`
	GoogleClientSecret    string `env:"GOOGLE_CLIENT_SECRET" envDefault:""`
	MicrosoftClientID     string `env:"MICROSOFT_CLIENT_ID" envDefault:""`
	MicrosoftClientSecret string `env:"MICROSOFT_CLIENT_SECRET" envDefault:""`
	FacebookClientID      string `env:"FACEBOOK_CLIENT_ID" envDefault:""`
	FacebookClientSecret  string `env:"FACEBOOK_CLIENT_SECRET" envDefault:""`
	XClientID             string `env:"X_CLIENT_ID" envDefault:""`
	XClientSecret         string `env:"X_CLIENT_SECRET" envDefault:""`

	// LogLevel controls the slog handler's minimum level: debug, info,
	// warn, or error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"true"`
}

// Load reads .env (if present, ignored if absent) and then the real
// process environment into a Config, applying defaults and enforcing
// required fields.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// MustLoad is Load, panicking on failure. Intended for use at process
// startup, before a logger even exists to report the error through.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
