package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config contains runtime configuration values.
type Config struct {
	Environment  string
	HTTPPort     string
	ServiceName  string
	StoreDriver  string
	DatabaseURL  string
	PublicOrigin string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CSRFSecret       string
	CSRFCookieSecure bool

	SessionCookieName      string
	SessionAbsoluteTTL     time.Duration
	SessionInactivityTTL   time.Duration
	SessionMaxConcurrent   int
	SessionCleanupInterval time.Duration

	EdgeRateLimitRPM int

	AdminEmail    string
	AdminPassword string

	AlertAdminEmails []string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPass         string
	SMTPFrom         string
	KafkaBrokers     []string
	KafkaAlertTopic  string

	FailedLoginThreshold int
	SuspiciousScore      float64
	BruteForceThreshold  int

	TelemetryEndpoint string
	TelemetryInsecure bool
	TelemetrySampling float64
	CountryHeader     string

	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For and
	// country headers are honored. Empty trusts none.
	TrustedProxies []string

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
	CORSMaxAge           time.Duration

	// PolicyFile, when set, replaces the ADMIN_* policy variables.
	PolicyFile string
	PolicyEnv  PolicyEnv
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:  getEnv("APP_ENV", "development"),
		HTTPPort:     getEnv("HTTP_PORT", "8080"),
		ServiceName:  getEnv("SERVICE_NAME", "admin-guard"),
		StoreDriver:  strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		PublicOrigin: strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_ORIGIN")), "/"),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		CSRFSecret:       os.Getenv("CSRF_SECRET"),
		CSRFCookieSecure: getBool("CSRF_COOKIE_SECURE", true),

		SessionCookieName:      getEnv("SESSION_COOKIE_NAME", "admin_session"),
		SessionAbsoluteTTL:     getDuration("SESSION_ABSOLUTE_TTL", 30*24*time.Hour),
		SessionInactivityTTL:   getDuration("SESSION_INACTIVITY_TTL", time.Hour),
		SessionMaxConcurrent:   getInt("SESSION_MAX_CONCURRENT", 3),
		SessionCleanupInterval: getDuration("SESSION_CLEANUP_INTERVAL", 15*time.Minute),

		EdgeRateLimitRPM: getInt("EDGE_RATE_LIMIT_RPM", 600),

		AdminEmail:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword: strings.TrimSpace(os.Getenv("ADMIN_PASSWORD")),

		AlertAdminEmails: getList("ALERT_ADMIN_EMAILS", nil),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         getInt("SMTP_PORT", 587),
		SMTPUser:         os.Getenv("SMTP_USER"),
		SMTPPass:         os.Getenv("SMTP_PASS"),
		SMTPFrom:         os.Getenv("SMTP_FROM"),
		KafkaBrokers:     getList("KAFKA_BROKERS", nil),
		KafkaAlertTopic:  getEnv("KAFKA_ALERT_TOPIC", "security-alerts"),

		FailedLoginThreshold: getInt("REPUTATION_FAILED_LOGIN_THRESHOLD", 5),
		SuspiciousScore:      getFloat("REPUTATION_SUSPICIOUS_SCORE", 75),
		BruteForceThreshold:  getInt("REPUTATION_BRUTE_FORCE_THRESHOLD", 10),

		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		TelemetrySampling: getFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
		CountryHeader:     getEnv("COUNTRY_HEADER", "CF-IPCountry"),
		TrustedProxies:    getList("TRUSTED_PROXIES", nil),

		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", nil),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "X-CSRF-Token", "X-Request-Id"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAge:           getDuration("CORS_MAX_AGE", 10*time.Minute),

		PolicyFile: strings.TrimSpace(os.Getenv("ADMIN_SECURITY_POLICY_FILE")),
		PolicyEnv:  loadPolicyEnv(),
	}

	switch cfg.StoreDriver {
	case StoreDriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required")
		}
	case StoreDriverMemory:
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}

	if cfg.CSRFSecret == "" {
		if !cfg.IsDevelopment() {
			return Config{}, fmt.Errorf("CSRF_SECRET is required")
		}
		cfg.CSRFSecret = "development-only-csrf-secret"
	}

	if err := validateProxies(cfg.TrustedProxies); err != nil {
		return Config{}, err
	}

	if cfg.SessionMaxConcurrent < 1 {
		cfg.SessionMaxConcurrent = 1
	}

	return cfg, nil
}

func validateProxies(entries []string) error {
	for _, entry := range entries {
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: invalid entry %q", entry)
		}
	}
	return nil
}

// IsDevelopment reports whether the service runs in a development environment.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "test"
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
