package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	CORS         CORSConfig
	Auth         AuthConfig
	Paystack     PaystackConfig
	Verification VerificationConfig
	Redis        RedisConfig
	Metrics      MetricsConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string
	PoolMin  int
	PoolMax  int
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Origins []string
}

// AuthConfig holds the shared secret used to verify access tokens issued by
// the identity service.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// PaystackConfig holds payment provider settings.
type PaystackConfig struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
	Timeout     time.Duration
}

// VerificationConfig holds verification pipeline settings.
type VerificationConfig struct {
	Fee                     decimal.Decimal
	Currency                string
	OverlapThresholdPercent float64
	FrontendURL             string
}

// RedisConfig holds the notification stream settings. An empty URL disables
// the Redis publisher and notifications are only logged.
type RedisConfig struct {
	URL          string
	NotifyStream string
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
}

// Load reads configuration from environment variables.
// It uses viper to read values and provides sensible defaults for development.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults for development
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_HOST", "host.docker.internal")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_NAME", "verrify")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_POOL_MIN", 2)
	v.SetDefault("DB_POOL_MAX", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:3001")
	v.SetDefault("AUTH_JWT_ISSUER", "")
	v.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	v.SetDefault("PAYSTACK_TIMEOUT", "15s")
	v.SetDefault("VERIFICATION_FEE", "50000")
	v.SetDefault("VERIFICATION_CURRENCY", "NGN")
	v.SetDefault("OVERLAP_THRESHOLD_PERCENT", 0.0)
	v.SetDefault("FRONTEND_URL", "http://localhost:3000")
	v.SetDefault("NOTIFY_STREAM", "verrify:notifications")
	v.SetDefault("METRICS_ENABLED", true)

	// Bind environment variables
	v.AutomaticEnv()

	fee, err := decimal.NewFromString(v.GetString("VERIFICATION_FEE"))
	if err != nil {
		return nil, fmt.Errorf("VERIFICATION_FEE is not a number: %w", err)
	}

	frontend := strings.TrimRight(v.GetString("FRONTEND_URL"), "/")
	callback := v.GetString("PAYSTACK_CALLBACK_URL")
	if callback == "" {
		callback = frontend + "/payments/callback"
	}

	// Build configuration
	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("PORT"),
			Env:      v.GetString("ENV"),
			LogLevel: strings.ToLower(v.GetString("LOG_LEVEL")),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			Name:     v.GetString("DB_NAME"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			SSLMode:  v.GetString("DB_SSLMODE"),
			PoolMin:  v.GetInt("DB_POOL_MIN"),
			PoolMax:  v.GetInt("DB_POOL_MAX"),
		},
		CORS: CORSConfig{
			Origins: parseOrigins(v.GetString("CORS_ORIGINS")),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("AUTH_JWT_SECRET"),
			JWTIssuer: v.GetString("AUTH_JWT_ISSUER"),
		},
		Paystack: PaystackConfig{
			SecretKey:   v.GetString("PAYSTACK_SECRET_KEY"),
			BaseURL:     strings.TrimRight(v.GetString("PAYSTACK_BASE_URL"), "/"),
			CallbackURL: callback,
			Timeout:     v.GetDuration("PAYSTACK_TIMEOUT"),
		},
		Verification: VerificationConfig{
			Fee:                     fee,
			Currency:                strings.ToUpper(v.GetString("VERIFICATION_CURRENCY")),
			OverlapThresholdPercent: v.GetFloat64("OVERLAP_THRESHOLD_PERCENT"),
			FrontendURL:             frontend,
		},
		Redis: RedisConfig{
			URL:          v.GetString("REDIS_URL"),
			NotifyStream: v.GetString("NOTIFY_STREAM"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	switch c.Server.LogLevel {
	case "", "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, disabled")
	}

	// Validate database config
	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Port == "" {
		return fmt.Errorf("DB_PORT is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.PoolMin < 0 {
		return fmt.Errorf("DB_POOL_MIN must be non-negative")
	}
	if c.Database.PoolMax < 1 {
		return fmt.Errorf("DB_POOL_MAX must be at least 1")
	}
	if c.Database.PoolMin > c.Database.PoolMax {
		return fmt.Errorf("DB_POOL_MIN must be less than or equal to DB_POOL_MAX")
	}

	// Validate CORS config
	if len(c.CORS.Origins) == 0 {
		return fmt.Errorf("CORS_ORIGINS is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}

	if c.Paystack.SecretKey == "" {
		return fmt.Errorf("PAYSTACK_SECRET_KEY is required")
	}
	if c.Paystack.Timeout <= 0 {
		return fmt.Errorf("PAYSTACK_TIMEOUT must be positive")
	}

	if !c.Verification.Fee.IsPositive() {
		return fmt.Errorf("VERIFICATION_FEE must be positive")
	}
	if len(c.Verification.Currency) != 3 {
		return fmt.Errorf("VERIFICATION_CURRENCY must be a three-letter code")
	}
	if c.Verification.OverlapThresholdPercent < 0 || c.Verification.OverlapThresholdPercent >= 100 {
		return fmt.Errorf("OVERLAP_THRESHOLD_PERCENT must be in [0, 100)")
	}

	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// parseOrigins splits a comma-separated string of origins into a slice.
func parseOrigins(origins string) []string {
	if origins == "" {
		return []string{}
	}

	parts := strings.Split(origins, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
