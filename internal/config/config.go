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

// Data backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRTDB   = "rtdb"
)

var validBackends = []string{BackendMemory, BackendSQLite, BackendRTDB}

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend string
	SeedFile    string

	// SQLite
	SQLiteDBPath string

	// Firebase Realtime Database
	RTDBURL             string
	RTDBCredentialsFile string

	// Redis change notices between instances
	RedisAddr    string
	RedisChannel string

	// AMQP change events
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Table behaviour
	HighlightDuration time.Duration
	SessionTTL        time.Duration
	SessionMax        int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend: getEnv("DATA_BACKEND", BackendMemory),
		SeedFile:    getEnv("SEED_FILE", ""),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/stockadmin.db"),

		RTDBURL:             getEnv("RTDB_URL", ""),
		RTDBCredentialsFile: getEnv("RTDB_CREDENTIALS_FILE", ""),

		RedisAddr:    getEnv("REDIS_ADDR", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "stockadmin:changes"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "stockadmin"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "user_changes"),

		HighlightDuration: getEnvDuration("HIGHLIGHT_DURATION", 1000*time.Millisecond),
		SessionTTL:        getEnvDuration("SESSION_TTL", 30*time.Minute),
		SessionMax:        getEnvInt("SESSION_MAX", 1000),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case BackendSQLite:
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0o755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	case BackendRTDB:
		if c.RTDBURL == "" {
			errors = append(errors, "RTDB_URL is required when using rtdb backend")
		} else if u, err := url.Parse(c.RTDBURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errors = append(errors, fmt.Sprintf("invalid RTDB URL '%s': must be an http(s) URL", c.RTDBURL))
		}
		if c.RTDBCredentialsFile != "" {
			if _, err := os.Stat(c.RTDBCredentialsFile); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("RTDB credentials file does not exist: %s", c.RTDBCredentialsFile))
			}
		}
	}

	if c.SeedFile != "" && c.DataBackend == BackendRTDB {
		errors = append(errors, "SEED_FILE cannot be used with the rtdb backend")
	}

	if c.RedisAddr != "" && c.RedisChannel == "" {
		errors = append(errors, "Redis channel cannot be empty when REDIS_ADDR is set")
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.HighlightDuration <= 0 {
		errors = append(errors, fmt.Sprintf("invalid highlight duration %v: must be positive", c.HighlightDuration))
	} else if c.HighlightDuration > time.Minute {
		errors = append(errors, fmt.Sprintf("invalid highlight duration %v: must be at most 1 minute", c.HighlightDuration))
	}

	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.SessionMax < 1 {
		errors = append(errors, fmt.Sprintf("invalid session max %d: must be at least 1", c.SessionMax))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json", "tint":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of [text json tint]", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
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
