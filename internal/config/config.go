package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string

	// Mono provider
	MonoSecretKey string
	MonoBaseURL   string
	MonoPageSize  int

	// AMQP (categorization queue, optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Sync
	SyncParallelism int
	SyncTimeout     time.Duration

	// Sessions
	JWTSecret  string
	SessionTTL time.Duration

	// Google Sheets statement export (optional)
	GoogleSpreadsheetID string
	GoogleSheetName     string
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/balanz.db"),

		MonoSecretKey: getEnv("MONO_SECRET_KEY", ""),
		MonoBaseURL:   getEnv("MONO_BASE_URL", "https://api.withmono.com"),
		MonoPageSize:  getEnvInt("MONO_PAGE_SIZE", 50),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "balanz"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "categorize_transactions"),

		SyncParallelism: getEnvInt("SYNC_PARALLELISM", 4),
		SyncTimeout:     getEnvDuration("SYNC_TIMEOUT", 2*time.Minute),

		JWTSecret:  getEnv("JWT_SECRET", ""),
		SessionTTL: getEnvDuration("SESSION_TTL", 24*time.Hour),

		GoogleSpreadsheetID: getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleSheetName:     getEnv("GOOGLE_SHEET_NAME", "Statements"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errs = append(errs, "SQLite database path cannot be empty")
	} else if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errs = append(errs, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
			}
		}
	}

	if c.MonoSecretKey == "" {
		errs = append(errs, "MONO_SECRET_KEY is required")
	} else if !strings.HasPrefix(c.MonoSecretKey, "test_sk_") && !strings.HasPrefix(c.MonoSecretKey, "live_sk_") {
		errs = append(errs, "MONO_SECRET_KEY must start with 'test_sk_' or 'live_sk_'")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.SyncParallelism < 1 {
		errs = append(errs, fmt.Sprintf("invalid sync parallelism %d: must be at least 1", c.SyncParallelism))
	} else if c.SyncParallelism > 32 {
		errs = append(errs, fmt.Sprintf("invalid sync parallelism %d: must be at most 32", c.SyncParallelism))
	}

	if c.SyncTimeout < 10*time.Second {
		errs = append(errs, fmt.Sprintf("invalid sync timeout %v: must be at least 10 seconds", c.SyncTimeout))
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 characters")
	}

	if c.SessionTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
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
