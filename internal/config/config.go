// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"auth-service/internal/kv"
	authotel "auth-service/internal/telemetry/otel"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN of the user store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisURL is the session store address (redis:// or rediss://).
	RedisURL          string        `mapstructure:"REDIS_URL"`
	RedisDialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	RedisReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	RedisWriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`

	// Key pairs are PEM-encoded (RSA, ECDSA, or Ed25519) or paths to PEM files.
	// Access and refresh tokens are signed with separate keys.
	JWTAccessPrivateKey  string `mapstructure:"JWT_ACCESS_PRIVATE_KEY"`
	JWTAccessPublicKey   string `mapstructure:"JWT_ACCESS_PUBLIC_KEY"`
	JWTRefreshPrivateKey string `mapstructure:"JWT_REFRESH_PRIVATE_KEY"`
	JWTRefreshPublicKey  string `mapstructure:"JWT_REFRESH_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience   string        `mapstructure:"JWT_AUDIENCE"`
	JWTAccessTTL  time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	JWTRefreshTTL time.Duration `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// SessionRotationCAS selects the conditional single-step session swap on
	// refresh. When false the new session is written and the old one removed
	// as two concurrent writes.
	SessionRotationCAS bool `mapstructure:"SESSION_ROTATION_CAS"`
	// SessionSweepInterval is how often stale user index entries are pruned. Zero disables the sweeper.
	SessionSweepInterval time.Duration `mapstructure:"SESSION_SWEEP_INTERVAL"`
	// UserCacheTTL is how long user lookups by id are cached in Redis. Zero disables the cache.
	UserCacheTTL time.Duration `mapstructure:"USER_CACHE_TTL"`

	LogLevel string `mapstructure:"LOG_LEVEL"`

	// OTLPEndpoint is the OTLP gRPC collector (e.g. localhost:4317). Empty disables export.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

var defaults = map[string]any{
	"GRPC_ADDR":                   ":8080",
	"DATABASE_URL":                "",
	"REDIS_URL":                   "redis://localhost:6379/0",
	"REDIS_DIAL_TIMEOUT":          "2s",
	"REDIS_READ_TIMEOUT":          "500ms",
	"REDIS_WRITE_TIMEOUT":         "500ms",
	"JWT_ACCESS_PRIVATE_KEY":      "",
	"JWT_ACCESS_PUBLIC_KEY":       "",
	"JWT_REFRESH_PRIVATE_KEY":     "",
	"JWT_REFRESH_PUBLIC_KEY":      "",
	"JWT_ISSUER":                  "auth-service",
	"JWT_AUDIENCE":                "auth-api",
	"JWT_ACCESS_TTL":              "15m",
	"JWT_REFRESH_TTL":             "24h",
	"BCRYPT_COST":                 12,
	"SESSION_ROTATION_CAS":        true,
	"SESSION_SWEEP_INTERVAL":      "10m",
	"USER_CACHE_TTL":              "5m",
	"LOG_LEVEL":                   "info",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"OTEL_SERVICE_NAME":           "auth-service",
	"APP_ENV":                     "",
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.GRPCAddr) == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return errors.New("config: JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}
	if c.JWTRefreshTTL <= c.JWTAccessTTL {
		return errors.New("config: JWT_REFRESH_TTL must exceed JWT_ACCESS_TTL")
	}
	if c.SessionSweepInterval < 0 || c.UserCacheTTL < 0 {
		return errors.New("config: SESSION_SWEEP_INTERVAL and USER_CACHE_TTL must not be negative")
	}
	if c.Env == "production" && !c.KeysConfigured() {
		return errors.New("config: JWT key pairs must be set when APP_ENV=production")
	}
	return nil
}

// KeysConfigured reports whether all four signing key settings are present.
func (c *Config) KeysConfigured() bool {
	for _, k := range []string{c.JWTAccessPrivateKey, c.JWTAccessPublicKey, c.JWTRefreshPrivateKey, c.JWTRefreshPublicKey} {
		if strings.TrimSpace(k) == "" {
			return false
		}
	}
	return true
}

// Redis returns the session store client settings.
func (c *Config) Redis() kv.Config {
	return kv.Config{
		URL:          c.RedisURL,
		DialTimeout:  c.RedisDialTimeout,
		ReadTimeout:  c.RedisReadTimeout,
		WriteTimeout: c.RedisWriteTimeout,
	}
}

// Telemetry returns the OTLP provider settings.
func (c *Config) Telemetry(version string) authotel.Config {
	return authotel.Config{
		Endpoint:       c.OTLPEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: version,
		Insecure:       c.OTLPInsecure,
	}
}
