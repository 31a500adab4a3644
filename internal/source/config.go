package source

import (
	"fmt"
	"time"

	"expensewatch/internal/api"
	"expensewatch/internal/config"
)

// Type represents the kind of backend records are read from
type Type string

const (
	HTTPSource   Type = "http"
	MemorySource Type = "memory"
)

// String implements fmt.Stringer
func (t Type) String() string {
	return string(t)
}

// IsValid returns true if the source type is known
func (t Type) IsValid() bool {
	switch t {
	case HTTPSource, MemorySource:
		return true
	default:
		return false
	}
}

// Config holds configuration for source creation
type Config struct {
	Type Type

	// HTTP specific
	BaseURL           string
	Timeout           time.Duration
	RetryMax          int
	CategoryTTL       time.Duration
	Location          *time.Location
	SentryDSN         string
	SentryEnvironment string

	// Memory specific
	DataDirectory string
}

// FromAppConfig converts the application config to source config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	t := Type(appConfig.DataBackend)
	if !t.IsValid() {
		return Config{}, fmt.Errorf("invalid data backend in config: %s (must be one of %v)", appConfig.DataBackend, Types())
	}

	return Config{
		Type:              t,
		BaseURL:           appConfig.APIBaseURL,
		Timeout:           appConfig.HTTPTimeout,
		RetryMax:          appConfig.HTTPRetryMax,
		CategoryTTL:       appConfig.CategoryCacheTTL,
		SentryDSN:         appConfig.SentryDSN,
		SentryEnvironment: appConfig.SentryEnvironment,
		DataDirectory:     appConfig.DataDir,
	}, nil
}

// Validate validates the source configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid source type: %s", c.Type)
	}
	if c.Type == HTTPSource && c.RetryMax < 0 {
		return fmt.Errorf("retry max must not be negative: %d", c.RetryMax)
	}
	return nil
}

// clientOptions maps the HTTP settings onto api.Options.
func (c Config) clientOptions() *api.Options {
	opts := &api.Options{
		BaseURL:           c.BaseURL,
		Timeout:           c.Timeout,
		CategoryTTL:       c.CategoryTTL,
		Location:          c.Location,
		SentryDSN:         c.SentryDSN,
		SentryEnvironment: c.SentryEnvironment,
	}
	if c.RetryMax > 0 {
		opts.RetryConfig = &api.RetryConfig{
			MaxRetries: c.RetryMax,
			RetryWait:  250 * time.Millisecond,
			MaxWait:    2 * time.Second,
		}
	}
	return opts
}

// Types returns all valid source types
func Types() []Type {
	return []Type{HTTPSource, MemorySource}
}
