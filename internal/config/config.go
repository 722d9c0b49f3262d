package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	// CronSecret guards remote pipeline invocation. Loopback callers are
	// exempt, matching direct process invocation.
	CronSecret string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	// Engine tunables.
	RunInterval      time.Duration
	TriggerBucket    time.Duration
	StaleRunAfter    time.Duration
	RunRetentionDays int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	StripeAPIKey string

	ExchangeRateURL string

	// AutodebitUnlockPassphrase lets a collection run use raw (non-vaulted)
	// payment instruments. Unset in normal unattended operation.
	AutodebitUnlockPassphrase string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "billfold"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		CronSecret:  strings.TrimSpace(getenv("CRON_SECRET", "")),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "billfold"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),

		RunInterval:      getenvDuration("ENGINE_RUN_INTERVAL", 5*time.Minute),
		TriggerBucket:    getenvDuration("ENGINE_TRIGGER_BUCKET", 5*time.Minute),
		StaleRunAfter:    getenvDuration("ENGINE_STALE_RUN_AFTER", 6*time.Hour),
		RunRetentionDays: getenvInt("ENGINE_RUN_RETENTION_DAYS", 90),

		SMTPHost:     getenv("SMTP_HOST", ""),
		SMTPPort:     getenvInt("SMTP_PORT", 587),
		SMTPUsername: getenv("SMTP_USERNAME", ""),
		SMTPPassword: getenv("SMTP_PASSWORD", ""),
		SMTPFrom:     getenv("SMTP_FROM", "billing@localhost"),

		StripeAPIKey: strings.TrimSpace(getenv("STRIPE_API_KEY", "")),

		ExchangeRateURL: getenv("EXCHANGE_RATE_URL", ""),

		AutodebitUnlockPassphrase: strings.TrimSpace(getenv("AUTODEBIT_UNLOCK_PASSPHRASE", "")),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
