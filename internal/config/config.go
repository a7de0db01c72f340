package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	// Storage
	DBPath          string
	SecureStorePath string

	// Logging
	LogLevel  string
	LogFormat string

	// AMQP events, disabled when AMQPURL is empty
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// OperationTimeout bounds a single CLI command.
	OperationTimeout time.Duration
}

func Load() *Config {
	cfg := &Config{
		DBPath:          getEnv("PIGGY_DB_PATH", "./data/piggy.db"),
		SecureStorePath: getEnv("PIGGY_SECURE_STORE_PATH", "./data/secure.db"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "piggy"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "piggy.events"),

		OperationTimeout: getEnvDuration("PIGGY_OPERATION_TIMEOUT", 30*time.Second),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate storage paths
	if c.DBPath == "" {
		errors = append(errors, "database path cannot be empty")
	}
	if c.SecureStorePath == "" {
		errors = append(errors, "secure store path cannot be empty")
	}
	if c.DBPath != "" && c.SecureStorePath != "" && filepath.Clean(c.DBPath) == filepath.Clean(c.SecureStorePath) {
		errors = append(errors, fmt.Sprintf("database and secure store must be different files, both are '%s'", c.DBPath))
	}
	for _, path := range []string{c.DBPath, c.SecureStorePath} {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			errors = append(errors, fmt.Sprintf("'%s' is a directory", path))
		}
	}

	// Validate logging
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, validLevels))
	}
	validFormats := []string{"text", "json"}
	if !contains(validFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, validFormats))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRoutingKey == "" {
			errors = append(errors, "AMQP routing key cannot be empty when AMQP URL is provided")
		}
	}

	if c.OperationTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid operation timeout %v: must be at least 1 second", c.OperationTimeout))
	} else if c.OperationTimeout > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid operation timeout %v: must be at most 1 hour", c.OperationTimeout))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// EventsEnabled reports whether domain events are published to a broker.
func (c *Config) EventsEnabled() bool {
	return c.AMQPURL != ""
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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
