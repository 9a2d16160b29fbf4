package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MinJWTSecretLength はJWT署名鍵の最小バイト長。
const MinJWTSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Session token
	JWTSecret          string
	JWTExpiresIn       time.Duration
	JWTCookieExpiresIn time.Duration

	// Password hashing
	BcryptCost  int
	HashWorkers int

	// Auth flows
	FlowTokenTTL                 time.Duration
	RequireEmailVerified         bool
	ForgotPasswordRevealsUnknown bool

	// Mail
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Rate Limit
	RateLimitAuth    int
	RateLimitGeneral int

	// Cleanup
	CleanupInterval time.Duration

	// Server
	ServerPort string
	BaseURL    string
	LogLevel   string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	cfg.BaseURL = strings.TrimRight(os.Getenv("BASE_URL"), "/")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.JWTSecret) < MinJWTSecretLength {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d bytes", MinJWTSecretLength)
	}

	// Optional fields with defaults
	cfg.JWTExpiresIn = getEnvDuration("JWT_EXPIRES_IN", 90*24*time.Hour)
	cfg.JWTCookieExpiresIn = time.Duration(getEnvInt("JWT_COOKIE_EXPIRES_IN", 90)) * 24 * time.Hour
	cfg.BcryptCost = getEnvInt("BCRYPT_COST", 12)
	cfg.HashWorkers = getEnvInt("HASH_WORKERS", 0)
	cfg.FlowTokenTTL = getEnvDuration("FLOW_TOKEN_TTL", 10*time.Minute)
	cfg.RequireEmailVerified = getEnvBool("REQUIRE_EMAIL_VERIFIED", false)
	cfg.ForgotPasswordRevealsUnknown = getEnvBool("FORGOT_PASSWORD_REVEALS_UNKNOWN", false)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 587)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.SMTPFrom = getEnvString("SMTP_FROM", "no-reply@localhost")
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// MailEnabled はSMTP送信が設定されているかを返す。
func (c *Config) MailEnabled() bool {
	return c.SMTPHost != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
