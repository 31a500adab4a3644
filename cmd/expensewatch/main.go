package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"expensewatch/internal/amqp"
	"expensewatch/internal/cli"
	"expensewatch/internal/config"
	"expensewatch/internal/core"
	applog "expensewatch/internal/log"
	"expensewatch/internal/notify"
	"expensewatch/internal/observability"
	"expensewatch/internal/services"
	"expensewatch/internal/source"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("expensewatch failed", applog.FieldError, err)
		os.Exit(1)
	}
}

// run wires the components and blocks until a shutdown signal. Every
// resource acquired here is released by a deferred call before it returns.
func run(cfg *config.Config, logger *applog.Logger) error {
	logger.Info("Starting expensewatch",
		applog.FieldBackend, cfg.DataBackend,
		applog.FieldInterval, cfg.PollInterval)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	// Build the record source
	srcCfg, err := source.FromAppConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid source configuration: %w", err)
	}
	srcCfg.Location = time.Local

	result, err := source.NewFactory(logger).Create(ctx, srcCfg)
	if err != nil {
		return fmt.Errorf("initialize %s source: %w", cfg.DataBackend, err)
	}
	defer func() {
		if err := result.Close(); err != nil {
			logger.Warn("Source cleanup failed", applog.FieldError, err)
		}
	}()

	dashboard := services.NewDashboard(result.Source, result.Source, logger)

	// Initial page load; its count becomes the refresher baseline
	refresher := services.NewRefresher(result.Source, services.RefresherConfig{Interval: cfg.PollInterval}, logger)
	view, err := dashboard.Load(ctx, core.Filter{}, time.Time{})
	if err != nil {
		logger.Warn("Initial dashboard load failed, baseline set on first poll", applog.FieldError, err)
	} else {
		logger.Info("Dashboard loaded", applog.FieldOperation, applog.OpSummary, "summary", view.SummaryLine(cfg.Currency))
		refresher.Prime(view.Summary.Count)
	}

	notifier, closeNotifiers := buildNotifier(ctx, cfg, logger)
	defer closeNotifiers()

	if cfg.MetricsAddr != "" {
		metricsSrv := observability.NewServer(cfg.MetricsAddr, refresher, logger)
		if err := metricsSrv.Start(); err != nil {
			return fmt.Errorf("start metrics server on %s: %w", cfg.MetricsAddr, err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Metrics server shutdown error", applog.FieldError, err)
			}
		}()
	}

	onGrowth := func(ctx context.Context, records []core.ExpenseRecord, previous int) {
		ev := notify.NewGrowthEvent(records, previous, time.Time{})
		if err := notifier.NotifyGrowth(ctx, ev); err != nil {
			logger.Warn("Growth notification incomplete", applog.FieldEventID, ev.ID, applog.FieldError, err)
		}

		updated := dashboard.Refresh(ctx, records, time.Time{})
		logger.Info("Dashboard updated", applog.FieldOperation, applog.OpSummary, "summary", updated.SummaryLine(cfg.Currency))
	}

	if err := refresher.Start(ctx, onGrowth); err != nil {
		return fmt.Errorf("start refresher: %w", err)
	}

	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down", applog.FieldOperation, applog.OpShutdown)
	if err := refresher.Stop(shutdownCtx); err != nil {
		logger.Warn("Refresher did not stop cleanly", applog.FieldError, err)
	}
	logger.Info("Stopped gracefully")
	return nil
}

// buildNotifier always logs growth and also publishes to AMQP when configured.
// A broker that cannot be reached at startup only disables publishing.
func buildNotifier(ctx context.Context, cfg *config.Config, logger *applog.Logger) (*notify.Multi, func()) {
	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	closeFn := func() {}

	if cfg.AMQPURL == "" {
		logger.Info("AMQP publishing disabled - no AMQP_URL provided")
	} else if publisher, err := amqp.NewPublisher(ctx, amqp.Config{
		URL:        cfg.AMQPURL,
		Exchange:   cfg.AMQPExchange,
		RoutingKey: cfg.AMQPRoutingKey,
	}, logger); err != nil {
		logger.Warn("Failed to initialize AMQP publisher, continuing without it", applog.FieldError, err)
	} else {
		logger.Info("Initialized AMQP publisher",
			"exchange", cfg.AMQPExchange,
			"routing_key", cfg.AMQPRoutingKey)
		notifiers = append(notifiers, publisher)
		closeFn = func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("AMQP close failed", applog.FieldError, err)
			}
		}
	}

	multi := notify.NewMulti(logger, notifiers...)
	logger.Info("Growth notifiers ready", "notifiers", multi.Len())
	return multi, closeFn
}
