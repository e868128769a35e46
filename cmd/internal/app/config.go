package app

import (
	"fmt"
	"strings"
	"time"
)

// Mailbox backends selectable with FINTRACK_MAILBOX_BACKEND.
const (
	MailboxAuto     = "auto"
	MailboxMemory   = "memory"
	MailboxRedis    = "redis"
	MailboxPostgres = "postgres"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// DBMigrate creates the chat_mailbox table at startup.
	DBMigrate bool

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	RedisURL string

	MailboxBackend string
	MailboxMax     int

	// CORS for the JSON diagnostics endpoints.
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	BalanceInterval time.Duration
	RatesURL        string
	RatesTTL        time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("FINTRACK_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("FINTRACK_LOG_LEVEL", "info"),
		LogFormat: EnvString("FINTRACK_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("FINTRACK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("FINTRACK_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("FINTRACK_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("FINTRACK_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("FINTRACK_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("FINTRACK_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("FINTRACK_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("FINTRACK_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("FINTRACK_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("FINTRACK_DB_SCHEMA", "public"),
		DBMigrate:   EnvBool("FINTRACK_DB_MIGRATE", false),

		ReadinessRequireDB: EnvBool("FINTRACK_READINESS_REQUIRE_DB", false),

		RedisURL: EnvString("FINTRACK_REDIS_URL", ""),

		MailboxBackend: strings.ToLower(EnvString("FINTRACK_MAILBOX_BACKEND", MailboxAuto)),
		MailboxMax:     EnvInt("FINTRACK_MAILBOX_MAX", 1000),

		CORSAllowedOrigins:   EnvCSV("FINTRACK_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("FINTRACK_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("FINTRACK_CORS_MAX_AGE", 600),

		BalanceInterval: EnvDuration("FINTRACK_BALANCE_INTERVAL", 10*time.Second),
		RatesURL:        EnvString("FINTRACK_RATES_URL", ""),
		RatesTTL:        EnvDuration("FINTRACK_RATES_TTL", time.Hour),
	}
}

// mailboxBackend resolves "auto" to redis, then postgres, then memory, and
// checks that the chosen backend is configured.
func (c Config) mailboxBackend() (string, error) {
	switch c.MailboxBackend {
	case "", MailboxAuto:
		switch {
		case c.RedisURL != "":
			return MailboxRedis, nil
		case c.DatabaseURL != "":
			return MailboxPostgres, nil
		default:
			return MailboxMemory, nil
		}
	case MailboxMemory:
		return MailboxMemory, nil
	case MailboxRedis:
		if c.RedisURL == "" {
			return "", fmt.Errorf("mailbox backend %q requires FINTRACK_REDIS_URL", c.MailboxBackend)
		}
		return MailboxRedis, nil
	case MailboxPostgres:
		if c.DatabaseURL == "" {
			return "", fmt.Errorf("mailbox backend %q requires FINTRACK_DATABASE_URL", c.MailboxBackend)
		}
		return MailboxPostgres, nil
	default:
		return "", fmt.Errorf("unknown mailbox backend %q", c.MailboxBackend)
	}
}
