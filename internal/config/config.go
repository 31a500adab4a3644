package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Backend selection
	DataBackend string
	DataDir     string

	// REST API
	APIBaseURL       string
	HTTPTimeout      time.Duration
	HTTPRetryMax     int
	CategoryCacheTTL time.Duration

	// Refresher
	PollInterval time.Duration

	// Presentation
	Currency string
	LogLevel string

	// AMQP growth notifications, disabled when AMQPURL is empty
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Observability
	MetricsAddr       string
	SentryDSN         string
	SentryEnvironment string
}

func Load() *Config {
	cfg := &Config{
		DataBackend: getEnv("DATA_BACKEND", "http"),
		DataDir:     getEnv("DATA_DIR", "data"),

		APIBaseURL:       getEnv("API_BASE_URL", "http://127.0.0.1:8000/api"),
		HTTPTimeout:      getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		HTTPRetryMax:     getEnvInt("HTTP_RETRY_MAX", 2),
		CategoryCacheTTL: getEnvDuration("CATEGORY_CACHE_TTL", 5*time.Minute),

		PollInterval: getEnvDuration("POLL_INTERVAL", 5*time.Second),

		Currency: getEnv("CURRENCY", "RWF"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "expensewatch"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "expenses.new"),

		MetricsAddr:       getEnv("METRICS_ADDR", ""),
		SentryDSN:         getEnv("SENTRY_DSN", ""),
		SentryEnvironment: getEnv("SENTRY_ENVIRONMENT", "production"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate data backend
	validBackends := []string{"http", "memory"}
	isValidBackend := false
	for _, backend := range validBackends {
		if c.DataBackend == backend {
			isValidBackend = true
			break
		}
	}
	if !isValidBackend {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	// Validate API settings if backend is http
	if c.DataBackend == "http" {
		if c.APIBaseURL == "" {
			errors = append(errors, "API base URL cannot be empty when using http backend")
		} else if parsedURL, err := url.Parse(c.APIBaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
		}

		if c.HTTPTimeout <= 0 {
			errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be positive", c.HTTPTimeout))
		} else if c.HTTPTimeout > 2*time.Minute {
			errors = append(errors, fmt.Sprintf("invalid HTTP timeout %v: must be at most 2 minutes", c.HTTPTimeout))
		}

		if c.HTTPRetryMax < 0 || c.HTTPRetryMax > 10 {
			errors = append(errors, fmt.Sprintf("invalid HTTP retry max %d: must be between 0 and 10", c.HTTPRetryMax))
		}

		if c.CategoryCacheTTL < 0 {
			errors = append(errors, fmt.Sprintf("invalid category cache TTL %v: must not be negative", c.CategoryCacheTTL))
		}
	}

	// Validate refresher configuration
	if c.PollInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid poll interval %v: must be at least 1 second", c.PollInterval))
	} else if c.PollInterval > time.Hour {
		errors = append(errors, fmt.Sprintf("invalid poll interval %v: must be at most 1 hour", c.PollInterval))
	}

	if len(c.Currency) > 8 {
		errors = append(errors, fmt.Sprintf("invalid currency '%s': must be at most 8 characters", c.Currency))
	}

	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
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

	if c.MetricsAddr != "" {
		if _, port, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid metrics address '%s': %v", c.MetricsAddr, err))
		} else if p, err := strconv.Atoi(port); err != nil || p < 1 || p > 65535 {
			errors = append(errors, fmt.Sprintf("invalid metrics port '%s': must be between 1 and 65535", port))
		}
	}

	if c.SentryDSN != "" {
		if parsedURL, err := url.Parse(c.SentryDSN); err != nil || parsedURL.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid Sentry DSN '%s'", c.SentryDSN))
		}
	}

	// Return combined errors
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
