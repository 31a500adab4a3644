package source

import (
	"context"
	"fmt"

	"expensewatch/internal/api"
	applog "expensewatch/internal/log"
	"expensewatch/internal/source/memory"
)

// Factory creates sources based on configuration
type Factory interface {
	Create(ctx context.Context, cfg Config) (*Result, error)
}

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new source factory
func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.Discard()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(applog.ComponentSource),
	}
}

// Create implements Factory.Create
func (f *DefaultFactory) Create(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case HTTPSource:
		return f.createHTTPSource(cfg)
	case MemorySource:
		return f.createMemorySource(cfg)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}

func (f *DefaultFactory) createHTTPSource(cfg Config) (*Result, error) {
	opts := cfg.clientOptions()
	opts.Logger = f.logger.WithComponent(applog.ComponentAPI)

	client, err := api.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize API client: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = api.DefaultBaseURL
	}
	f.logger.Info("Initialized HTTP source",
		"base_url", baseURL,
		"retry_max", cfg.RetryMax,
		"sentry_enabled", cfg.SentryDSN != "")

	return &Result{
		Source:  client,
		Cleanup: client.Close,
	}, nil
}

func (f *DefaultFactory) createMemorySource(cfg Config) (*Result, error) {
	dataDir := cfg.DataDirectory
	if dataDir == "" {
		dataDir = "data"
	}

	store, err := memory.NewFromFiles(dataDir, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("failed to seed memory source: %w", err)
	}

	f.logger.Info("Initialized memory source",
		"data_directory", dataDir,
		applog.FieldCount, store.Len())

	return &Result{
		Source: store,
	}, nil
}
