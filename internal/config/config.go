package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

type Config struct {
	// HTTP server
	Port      string
	JWTSecret string
	// RateLimitPerMinute is the sustained per-client request rate; RateLimitBurst
	// how many requests may arrive at once.
	RateLimitPerMinute int
	RateLimitBurst     int

	// Storage
	DataBackend  string
	SQLiteDBPath string
	SeedFile     string

	// AMQP, optional: without a URL no ledger events are published.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Redis, optional: without a URL the re-entry guard is in-process.
	RedisURL string
	GuardTTL time.Duration

	// Recurrence and migration passes
	RecurringInterval  time.Duration
	RecurringMaxPerRun int
	MigrationBatchSize int

	// AI
	GeminiAPIKey string
	GeminiModel  string
	AICacheSize  int
	AICacheTTL   time.Duration

	// Google Sheets report export
	GoogleSpreadsheetID      string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
	ReportSheetName          string

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8081"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),

		DataBackend:  getEnv("DATA_BACKEND", BackendMemory),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/conti.db"),
		SeedFile:     getEnv("CATEGORY_SEED_FILE", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "conti"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_events"),

		RedisURL: getEnv("REDIS_URL", ""),
		GuardTTL: getEnvDuration("GUARD_TTL", 2*time.Minute),

		RecurringInterval:  getEnvDuration("RECURRING_INTERVAL", time.Hour),
		RecurringMaxPerRun: getEnvInt("RECURRING_MAX_PER_RUN", 500),
		MigrationBatchSize: getEnvInt("MIGRATION_BATCH_SIZE", 100),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		AICacheSize:  getEnvInt("AI_CACHE_SIZE", 100),
		AICacheTTL:   getEnvDuration("AI_CACHE_TTL", time.Hour),

		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		ReportSheetName:          getEnv("REPORT_SHEET_NAME", "Report"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// AIEnabled reports whether the AI endpoints can be served.
func (c *Config) AIEnabled() bool { return c.GeminiAPIKey != "" }

// SheetsEnabled reports whether reports can be exported to Google Sheets.
func (c *Config) SheetsEnabled() bool { return c.GoogleSpreadsheetID != "" }

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	validBackends := []string{BackendMemory, BackendSQLite}
	if !slices.Contains(validBackends, c.DataBackend) {
		errs = append(errs, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	if c.DataBackend == BackendSQLite {
		if c.SQLiteDBPath == "" {
			errs = append(errs, "SQLite database path cannot be empty when using sqlite backend")
		} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RedisURL != "" {
		if u, err := url.Parse(c.RedisURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid Redis URL '%s': %v", c.RedisURL, err))
		} else if u.Scheme != "redis" && u.Scheme != "rediss" {
			errs = append(errs, fmt.Sprintf("invalid Redis URL scheme '%s': must be 'redis' or 'rediss'", u.Scheme))
		}
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, "JWT secret must be at least 32 characters")
	}
	if c.RateLimitPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("invalid rate limit %d: must be at least 1 request per minute", c.RateLimitPerMinute))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Sprintf("invalid rate limit burst %d: must be at least 1", c.RateLimitBurst))
	}

	if c.RecurringInterval < time.Second {
		errs = append(errs, fmt.Sprintf("invalid recurring interval %v: must be at least 1 second", c.RecurringInterval))
	} else if c.RecurringInterval > 24*time.Hour {
		errs = append(errs, fmt.Sprintf("invalid recurring interval %v: must be at most 24 hours", c.RecurringInterval))
	}
	if c.RecurringMaxPerRun < 1 {
		errs = append(errs, fmt.Sprintf("invalid recurring max per run %d: must be at least 1", c.RecurringMaxPerRun))
	}
	if c.MigrationBatchSize < 1 || c.MigrationBatchSize > 10000 {
		errs = append(errs, fmt.Sprintf("invalid migration batch size %d: must be between 1 and 10000", c.MigrationBatchSize))
	}
	if c.GuardTTL < time.Second {
		errs = append(errs, fmt.Sprintf("invalid guard TTL %v: must be at least 1 second", c.GuardTTL))
	}

	if c.AICacheSize < 1 {
		errs = append(errs, fmt.Sprintf("invalid AI cache size %d: must be at least 1", c.AICacheSize))
	}
	if c.AICacheTTL <= 0 {
		errs = append(errs, fmt.Sprintf("invalid AI cache TTL %v: must be positive", c.AICacheTTL))
	}

	if c.SheetsEnabled() && c.GoogleServiceAccountFile != "" {
		if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
		}
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// ValidateServer adds the requirements of the API server on top of Validate.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("configuration validation failed:\n- JWT_SECRET is required by the API server")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
