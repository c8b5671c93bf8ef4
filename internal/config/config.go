// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for links and redirects.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds session and abuse-policy settings.
	Auth AuthConfig
}

// DatabaseConfig holds MariaDB connection parameters. Individual fields
// (Host, User, Password, Name) are read from separate env vars so container
// orchestrators can manage each independently. If DATABASE_URL is set, it
// takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	// User is the MariaDB username (default: "bazarhub").
	User string

	// Password is the MariaDB password (default: "bazarhub").
	Password string

	// Name is the database name (default: "bazarhub").
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built from the individual
// Host/User/Password/Name fields using the driver's Config.FormatDSN()
// to safely handle special characters in passwords.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = ensurePort(d.Host, "3306")
	cfg.DBName = d.Name
	cfg.ParseTime = true
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
// Allows users to set DB_HOST=mydb (gets :3306) or DB_HOST=mydb:3307 (as-is).
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	URL string
}

// AuthConfig holds session settings and the abuse policy applied to the
// OTP and CAPTCHA flows. Every window and cap is tunable via env vars so
// operators can tighten or relax limits without a rebuild, and tests can
// shrink windows down to milliseconds.
type AuthConfig struct {
	// SessionTTL is how long bearer sessions last before expiring.
	SessionTTL time.Duration

	// OTPTTL is how long a one-time code stays valid after being sent.
	OTPTTL time.Duration

	// MaxOTPSends is the number of OTP send requests allowed per
	// identifier+channel before the block window engages.
	MaxOTPSends int

	// MaxOTPFailures is the number of wrong-code verifications allowed per
	// identifier+channel before the block window engages.
	MaxOTPFailures int

	// MaxResends caps repeat sends for the same pending code.
	MaxResends int

	// ResendCooldown is the minimum gap between two sends to the same
	// identifier+channel.
	ResendCooldown time.Duration

	// BlockDuration is how long an identifier+channel stays blocked after
	// exhausting its send or verify budget.
	BlockDuration time.Duration

	// CaptchaTTL is how long an unsolved CAPTCHA challenge stays answerable.
	CaptchaTTL time.Duration

	// CaptchaSolvedGrace is how long a solved challenge can still be
	// re-confirmed by multi-step flows before it is garbage-collected.
	CaptchaSolvedGrace time.Duration

	// CaptchaMaxAttempts is the number of answers accepted per challenge.
	CaptchaMaxAttempts int

	// PendingFlowTTL bounds the login otp-pending and password-reset windows.
	PendingFlowTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing or malformed.
func Load() (*Config, error) {
	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "bazarhub"),
			Password:        getEnv("DB_PASSWORD", "bazarhub"),
			Name:            getEnv("DB_NAME", "bazarhub"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			SessionTTL:         getEnvDuration("SESSION_TTL", time.Hour),
			OTPTTL:             getEnvDuration("OTP_TTL", 10*time.Minute),
			MaxOTPSends:        getEnvInt("OTP_MAX_SENDS", 5),
			MaxOTPFailures:     getEnvInt("OTP_MAX_FAILURES", 5),
			MaxResends:         getEnvInt("OTP_MAX_RESENDS", 3),
			ResendCooldown:     getEnvDuration("OTP_RESEND_COOLDOWN", 3*time.Minute),
			BlockDuration:      getEnvDuration("OTP_BLOCK_DURATION", 5*time.Hour),
			CaptchaTTL:         getEnvDuration("CAPTCHA_TTL", 5*time.Minute),
			CaptchaSolvedGrace: getEnvDuration("CAPTCHA_SOLVED_GRACE", 2*time.Minute),
			CaptchaMaxAttempts: getEnvInt("CAPTCHA_MAX_ATTEMPTS", 3),
			PendingFlowTTL:     getEnvDuration("PENDING_FLOW_TTL", 10*time.Minute),
		},
	}

	if err := validatePolicy(cfg.Auth); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validatePolicy rejects nonsensical abuse-policy values early. A zero cap
// would lock everyone out on their first request; a zero window would never
// block anyone.
func validatePolicy(a AuthConfig) error {
	if a.MaxOTPSends < 1 {
		return fmt.Errorf("OTP_MAX_SENDS must be at least 1, got %d", a.MaxOTPSends)
	}
	if a.MaxOTPFailures < 1 {
		return fmt.Errorf("OTP_MAX_FAILURES must be at least 1, got %d", a.MaxOTPFailures)
	}
	if a.CaptchaMaxAttempts < 1 {
		return fmt.Errorf("CAPTCHA_MAX_ATTEMPTS must be at least 1, got %d", a.CaptchaMaxAttempts)
	}
	if a.BlockDuration <= 0 {
		return fmt.Errorf("OTP_BLOCK_DURATION must be positive, got %s", a.BlockDuration)
	}
	if a.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", a.SessionTTL)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "5h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
