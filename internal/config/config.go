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

	// PlatformAdminKey gates /v1/admin routes. Empty disables them.
	PlatformAdminKey string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Tx        TxConfig
	RateLimit RateLimitConfig
	Reconcile ReconcileConfig
	Email     EmailConfig
}

// TxConfig controls the retry policy of metered units of work.
type TxConfig struct {
	MaxAttempts int
	Backoff     time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TenantRate    int
	TenantBurst   int
	FailOpen      bool
}

type ReconcileConfig struct {
	Enabled        bool
	Interval       time.Duration
	Repair         bool
	PushgatewayURL string
	// RemoteWriteURL receives scheduler counters via Prometheus remote_write.
	RemoteWriteURL   string
	RemoteWriteToken string
}

// EmailConfig configures outbox delivery. An empty SMTPHost keeps
// notifications queued without sending them.
type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	BatchSize    int
	MaxAttempts  int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:          getenv("APP_SERVICE", "railmeter"),
		AppVersion:       getenv("APP_VERSION", "0.1.0"),
		Environment:      getenv("ENVIRONMENT", "development"),
		HTTPAddr:         getenv("HTTP_ADDR", ":8080"),
		PlatformAdminKey: strings.TrimSpace(getenv("PLATFORM_ADMIN_KEY", "")),
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "railmeter"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "railmeter.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Tx: TxConfig{
			MaxAttempts: getenvInt("TX_MAX_ATTEMPTS", 5),
			Backoff:     time.Duration(getenvInt("TX_RETRY_BACKOFF_MS", 20)) * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     getenv("RATE_LIMIT_REDIS_ADDR", ""),
			RedisPassword: getenv("RATE_LIMIT_REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			TenantRate:    getenvInt("RATE_LIMIT_TENANT_RATE", 20),
			TenantBurst:   getenvInt("RATE_LIMIT_TENANT_BURST", 40),
			FailOpen:      getenvBool("RATE_LIMIT_FAIL_OPEN", true),
		},
		Reconcile: ReconcileConfig{
			Enabled:          getenvBool("RECONCILE_ENABLED", true),
			Interval:         getenvDuration("RECONCILE_INTERVAL", 15*time.Minute),
			Repair:           getenvBool("RECONCILE_REPAIR", true),
			PushgatewayURL:   strings.TrimSpace(getenv("RECONCILE_PUSHGATEWAY_URL", "")),
			RemoteWriteURL:   strings.TrimSpace(getenv("RECONCILE_REMOTE_WRITE_URL", "")),
			RemoteWriteToken: strings.TrimSpace(getenv("RECONCILE_REMOTE_WRITE_TOKEN", "")),
		},
		Email: EmailConfig{
			SMTPHost:     strings.TrimSpace(getenv("SMTP_HOST", "")),
			SMTPPort:     getenvInt("SMTP_PORT", 587),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "briefs@railmeter.local"),
			BatchSize:    getenvInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:  getenvInt("OUTBOX_MAX_ATTEMPTS", 5),
		},
	}

	if cfg.Tx.MaxAttempts < 1 {
		cfg.Tx.MaxAttempts = 1
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
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
