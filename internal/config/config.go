package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr          string
	MetricsAddr       string // empty: /metrics only behind the gate
	BaseURL           string
	InstitutionDomain string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	AuthSecret         string

	SessionCookieName   string
	SessionCookieSecure bool
	SessionMaxAge       time.Duration
	SessionUpdateAge    time.Duration
	SessionBackend      string

	RedisAddr     string
	RedisPassword string

	StoreTimeout   time.Duration
	RequestTimeout time.Duration
	BcryptCost     int
	LoginMaxFailed int
	LoginLockFor   time.Duration

	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	SMTPTLS      string
	MailFrom     string
}

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

func Load() Config {
	baseURL := strings.TrimRight(getenv("BASE_URL", "http://localhost:8431"), "/")
	return Config{
		HTTPAddr:            getenv("HTTP_ADDR", ":8431"),
		MetricsAddr:         getenv("METRICS_ADDR", ""),
		BaseURL:             baseURL,
		InstitutionDomain:   strings.ToLower(getenv("INSTITUTION_DOMAIN", "kld.edu.ph")),
		GoogleClientID:      getenv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getenv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:   getenv("GOOGLE_REDIRECT_URL", baseURL+"/api/auth/callback/google"),
		AuthSecret:          getenv("AUTH_SECRET", ""),
		SessionCookieName:   getenv("SESSION_COOKIE_NAME", "session-token"),
		SessionCookieSecure: getenvBool("SESSION_COOKIE_SECURE", strings.HasPrefix(baseURL, "https://")),
		SessionMaxAge:       getenvDuration("SESSION_MAX_AGE", 30*24*time.Hour),
		SessionUpdateAge:    getenvDuration("SESSION_UPDATE_AGE", 24*time.Hour),
		SessionBackend:      strings.ToLower(getenv("SESSION_BACKEND", BackendPostgres)),
		RedisAddr:           getenv("REDIS_ADDR", ""),
		RedisPassword:       getenv("REDIS_PASSWORD", ""),
		StoreTimeout:        getenvDuration("STORE_TIMEOUT", 5*time.Second),
		RequestTimeout:      getenvDuration("REQUEST_TIMEOUT", 30*time.Second),
		BcryptCost:          getenvInt("BCRYPT_COST", 12),
		LoginMaxFailed:      getenvInt("LOGIN_MAX_FAILED", 6),
		LoginLockFor:        getenvDuration("LOGIN_LOCK_DURATION", 15*time.Minute),
		SMTPAddr:            getenv("SMTP_ADDR", ""),
		SMTPUsername:        getenv("SMTP_USERNAME", ""),
		SMTPPassword:        getenv("SMTP_PASSWORD", ""),
		SMTPTLS:             strings.ToLower(getenv("SMTP_TLS", "mandatory")),
		MailFrom:            getenv("MAIL_FROM", "no-reply@kld.edu.ph"),
	}
}

// GoogleConfigured reports whether the institutional OAuth provider can be used.
func (c Config) GoogleConfigured() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.AuthSecret != ""
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}
