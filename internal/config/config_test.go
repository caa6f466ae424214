package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.OTPTTL != 10*time.Minute {
		t.Errorf("expected OTP TTL 10m, got %v", cfg.Auth.OTPTTL)
	}
	if cfg.Auth.OTPMaxAttempts != 3 {
		t.Errorf("expected 3 OTP attempts, got %d", cfg.Auth.OTPMaxAttempts)
	}
	if cfg.Auth.LoginMaxAttempts != 5 {
		t.Errorf("expected 5 login attempts, got %d", cfg.Auth.LoginMaxAttempts)
	}
	if cfg.Auth.PasswordResetTTL != time.Hour {
		t.Errorf("expected reset TTL 1h, got %v", cfg.Auth.PasswordResetTTL)
	}
	if cfg.Auth.SecretKey == "" {
		t.Error("expected dev secret key fallback")
	}
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("SECRET_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing SECRET_KEY in production")
	}

	t.Setenv("SECRET_KEY", "too-short")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for short SECRET_KEY in production")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("OTP_MAX_ATTEMPTS", "4")
	t.Setenv("BASE_URL", "https://crm.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Auth.OTPTTL != 5*time.Minute {
		t.Errorf("expected 5m, got %v", cfg.Auth.OTPTTL)
	}
	if cfg.Auth.OTPMaxAttempts != 4 {
		t.Errorf("expected 4, got %d", cfg.Auth.OTPMaxAttempts)
	}
	if cfg.BaseURL != "https://crm.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.BaseURL)
	}
	if !cfg.IsSecure() {
		t.Error("expected https base URL to be secure")
	}
}

func TestAuthConfig_ValidateRejectsZeroLimits(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("OTP_MAX_ATTEMPTS", "0")
	t.Setenv("LOGIN_DECAY", "0s")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "OTP_MAX_ATTEMPTS") || !strings.Contains(err.Error(), "LOGIN_DECAY") {
		t.Errorf("expected both problems reported, got %v", err)
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", User: "u", Password: "p@ss", Name: "pipeline"}
	dsn := d.DSN()
	if !strings.Contains(dsn, "tcp(db:3306)") {
		t.Errorf("expected default port appended, got %s", dsn)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("expected parseTime, got %s", dsn)
	}

	d.dsnOverride = "raw-dsn"
	if d.DSN() != "raw-dsn" {
		t.Errorf("expected override, got %s", d.DSN())
	}
}

func TestLoad_ListsAndBootstrap(t *testing.T) {
	t.Setenv("ENV", "dev")
	t.Setenv("CORS_ORIGINS", " https://app.example.com , ,https://crm.example.com")
	t.Setenv("TRUSTED_PROXIES", "")
	t.Setenv("ADMIN_EMAIL", " admin@example.com ")
	t.Setenv("ADMIN_PASSWORD", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "https://crm.example.com" {
		t.Errorf("unexpected CORS origins: %v", cfg.HTTP.CORSOrigins)
	}
	if len(cfg.HTTP.TrustedProxies) != 0 {
		t.Errorf("expected no trusted proxies, got %v", cfg.HTTP.TrustedProxies)
	}
	if cfg.Bootstrap.Email != "admin@example.com" {
		t.Errorf("expected trimmed admin email, got %q", cfg.Bootstrap.Email)
	}
	if cfg.Bootstrap.Enabled() {
		t.Error("bootstrap should be disabled without a password")
	}
}

func TestLoad_MailLogBodies(t *testing.T) {
	t.Setenv("ENV", "development")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MailLogBodies {
		t.Error("expected email bodies kept out of logs by default")
	}

	t.Setenv("MAIL_LOG_BODIES", "true")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.MailLogBodies {
		t.Error("expected opt-in honored in development")
	}

	t.Setenv("ENV", "staging")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "MAIL_LOG_BODIES") {
		t.Errorf("expected MAIL_LOG_BODIES rejected outside development, got %v", err)
	}
}
