// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"errors"
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

	// BaseURL is the public-facing URL used for links in emails and CORS.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// MigrationsPath is the directory holding golang-migrate SQL files.
	MigrationsPath string

	// Database holds MariaDB connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings.
	Redis RedisConfig

	// Auth holds authentication-related settings.
	Auth AuthConfig

	// GeoIP holds the location lookup settings used when issuing login codes.
	GeoIP GeoIPConfig

	// HTTP holds edge settings: proxies and cross-origin callers.
	HTTP HTTPConfig

	// Bootstrap describes the first admin account created at startup.
	Bootstrap BootstrapConfig

	// MailLogBodies prints full email bodies (login codes, reset links)
	// when SMTP is unconfigured. Development only; off by default.
	MailLogBodies bool
}

// HTTPConfig holds reverse-proxy and CORS settings.
type HTTPConfig struct {
	// TrustedProxies lists CIDRs whose X-Forwarded-For headers are honored.
	TrustedProxies []string

	// CORSOrigins lists origins allowed to call the JSON endpoints with credentials.
	CORSOrigins []string
}

// BootstrapConfig holds the optional admin account ensured at startup.
// Nothing is created when Email or Password is empty.
type BootstrapConfig struct {
	Email    string
	Name     string
	Password string
}

// Enabled reports whether an admin account should be ensured.
func (b BootstrapConfig) Enabled() bool {
	return b.Email != "" && b.Password != ""
}

// DatabaseConfig holds MariaDB connection parameters. If DATABASE_URL is
// set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Host is the MariaDB address in host:port format (default: "localhost:3306").
	// If no port is specified, 3306 is appended automatically.
	Host string

	User     string
	Password string
	Name     string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the go-sql-driver/mysql connection string. If DATABASE_URL was
// set, it is returned as-is. Otherwise the DSN is built with the driver's
// Config.FormatDSN() so special characters in passwords are escaped.
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
	cfg.Loc = time.UTC
	return cfg.FormatDSN()
}

// ensurePort appends the default port if the host string doesn't include one.
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

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// SecretKey encrypts stored SMTP credentials (must be 32+ chars in production).
	SecretKey string

	// SessionTTL is how long a normal session lasts.
	SessionTTL time.Duration

	// RememberTTL is the session lifetime when "remember me" was ticked.
	RememberTTL time.Duration

	// PendingLoginTTL bounds how long a half-finished login (password
	// accepted, code not yet entered) is kept in Redis.
	PendingLoginTTL time.Duration

	// OTPTTL is how long an emailed login code stays valid.
	OTPTTL time.Duration

	// OTPMaxAttempts is the number of wrong codes tolerated per challenge.
	OTPMaxAttempts int

	// LoginMaxAttempts is the failed-credential ceiling per email+IP.
	LoginMaxAttempts int

	// LoginDecay is the window the failed-credential counter lives for.
	LoginDecay time.Duration

	// ResendMaxAttempts caps code resends per user within ResendDecay.
	ResendMaxAttempts int
	ResendDecay       time.Duration

	// PasswordResetTTL is how long a reset link stays valid.
	PasswordResetTTL time.Duration

	// HTTPRateLimit is the per-IP request budget per minute on auth POST routes.
	HTTPRateLimit int
}

// GeoIPConfig holds settings for the best-effort IP location lookup.
type GeoIPConfig struct {
	// URL is the lookup endpoint; "%s" is replaced with the IP. Empty disables lookups.
	URL string

	// Timeout bounds a single lookup.
	Timeout time.Duration

	// CacheTTL is how long resolved labels are cached in Redis.
	CacheTTL time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if required variables are missing or values are invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		Port:           getEnvInt("PORT", 8080),
		BaseURL:        strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),

		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost:3306"),
			User:            getEnv("DB_USER", "pipeline"),
			Password:        getEnv("DB_PASSWORD", "pipeline"),
			Name:            getEnv("DB_NAME", "pipeline"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},

		Auth: AuthConfig{
			SecretKey:         getEnv("SECRET_KEY", ""),
			SessionTTL:        getEnvDuration("SESSION_TTL", 2*time.Hour),
			RememberTTL:       getEnvDuration("REMEMBER_TTL", 720*time.Hour),
			PendingLoginTTL:   getEnvDuration("AUTH_PENDING_LOGIN_TTL", 2*time.Hour),
			OTPTTL:            getEnvDuration("OTP_TTL", 10*time.Minute),
			OTPMaxAttempts:    getEnvInt("OTP_MAX_ATTEMPTS", 3),
			LoginMaxAttempts:  getEnvInt("LOGIN_MAX_ATTEMPTS", 5),
			LoginDecay:        getEnvDuration("LOGIN_DECAY", time.Minute),
			ResendMaxAttempts: getEnvInt("OTP_RESEND_MAX", 3),
			ResendDecay:       getEnvDuration("OTP_RESEND_DECAY", 10*time.Minute),
			PasswordResetTTL:  getEnvDuration("PASSWORD_RESET_TTL", 60*time.Minute),
			HTTPRateLimit:     getEnvInt("HTTP_RATE_LIMIT", 20),
		},

		GeoIP: GeoIPConfig{
			URL:      getEnv("GEOIP_URL", "https://ipapi.co/%s/json/"),
			Timeout:  getEnvDuration("GEOIP_TIMEOUT", 2*time.Second),
			CacheTTL: getEnvDuration("GEOIP_CACHE_TTL", 24*time.Hour),
		},

		HTTP: HTTPConfig{
			TrustedProxies: getEnvList("TRUSTED_PROXIES", "127.0.0.1/32,::1/128,10.0.0.0/8,172.16.0.0/12,192.168.0.0/16"),
			CORSOrigins:    getEnvList("CORS_ORIGINS", ""),
		},

		Bootstrap: BootstrapConfig{
			Email:    strings.TrimSpace(getEnv("ADMIN_EMAIL", "")),
			Name:     getEnv("ADMIN_NAME", "Administrator"),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},

		MailLogBodies: getEnvBool("MAIL_LOG_BODIES", false),
	}

	if cfg.MailLogBodies && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("MAIL_LOG_BODIES is only allowed in development")
	}

	// Validate required fields in production. Case-insensitive check catches
	// common variants like "Production", "prod", etc.
	envLower := strings.ToLower(cfg.Env)
	if envLower == "production" || envLower == "prod" {
		if cfg.Auth.SecretKey == "" {
			return nil, fmt.Errorf("SECRET_KEY is required in production")
		}
		if len(cfg.Auth.SecretKey) < 32 {
			return nil, fmt.Errorf("SECRET_KEY must be at least 32 characters in production")
		}
	}

	// Provide a dev-only default secret so local dev works without .env.
	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = "dev-secret-key-do-not-use-in-production!!"
	}

	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects auth settings that would disable a safety limit.
func (a AuthConfig) Validate() error {
	var errs []error
	if a.OTPTTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL must be positive"))
	}
	if a.OTPMaxAttempts < 1 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be at least 1"))
	}
	if a.LoginMaxAttempts < 1 {
		errs = append(errs, errors.New("LOGIN_MAX_ATTEMPTS must be at least 1"))
	}
	if a.LoginDecay <= 0 {
		errs = append(errs, errors.New("LOGIN_DECAY must be positive"))
	}
	if a.ResendMaxAttempts < 1 || a.ResendDecay <= 0 {
		errs = append(errs, errors.New("OTP_RESEND_MAX and OTP_RESEND_DECAY must be positive"))
	}
	if a.PasswordResetTTL <= 0 {
		errs = append(errs, errors.New("PASSWORD_RESET_TTL must be positive"))
	}
	if a.SessionTTL <= 0 || a.RememberTTL <= 0 || a.PendingLoginTTL <= 0 {
		errs = append(errs, errors.New("session lifetimes must be positive"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsSecure returns true when the public URL is served over HTTPS.
func (c *Config) IsSecure() bool {
	return strings.HasPrefix(strings.ToLower(c.BaseURL), "https://")
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

// getEnvBool reads a boolean env var ("true", "1", ...) or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var, dropping empty entries.
func getEnvList(key, defaultVal string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultVal), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvDuration reads a duration env var (e.g., "720h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
