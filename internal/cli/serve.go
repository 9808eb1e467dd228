package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/fetch-service/internal/api/handler"
	"github.com/cuongbtq/fetch-service/internal/api/router"
	"github.com/cuongbtq/fetch-service/internal/backend/ytdlp"
	"github.com/cuongbtq/fetch-service/internal/config"
	"github.com/cuongbtq/fetch-service/internal/credentials"
	"github.com/cuongbtq/fetch-service/internal/events"
	"github.com/cuongbtq/fetch-service/internal/metrics"
	"github.com/cuongbtq/fetch-service/internal/orchestrator"
	"github.com/cuongbtq/fetch-service/internal/registry"
	"github.com/cuongbtq/fetch-service/internal/worker"
	"github.com/cuongbtq/fetch-service/shared/rabbitmq"
)

const publisherDrainTimeout = 10 * time.Second

func buildServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting fetch service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, store, err := openStore(ctx, &cfg.Database, appLogger.Component("database"))
	if err != nil {
		return err
	}
	defer dbClient.Close()
	appLogger.Debug("Database pool", slog.String("stats", dbClient.Stats()))

	collector := metrics.NewCollector()

	publisher, closePublisher, err := initPublisher(&cfg.RabbitMQ, appLogger.Component("events"))
	if err != nil {
		return err
	}
	defer closePublisher()

	jobs := registry.New(store, appLogger.Component("registry"))
	resolver := credentials.NewResolver(cfg.Storage.CredentialsDir)
	backend := ytdlp.New(ytdlp.Config{
		Binary:      cfg.Backend.YTDLPPath,
		Credentials: resolver,
		Logger:      appLogger.Component("ytdlp"),
	})

	hostname, _ := os.Hostname()
	pool := worker.NewPool(&worker.Config{
		Logger:      appLogger.Component("pool"),
		Jobs:        jobs,
		Fetcher:     backend,
		Publisher:   publisher,
		Metrics:     collector,
		Concurrency: cfg.Pool.Size,
		JobTimeout:  cfg.Pool.JobTimeout,
		WorkerID:    hostname,
	})

	orch, err := orchestrator.New(&orchestrator.Config{
		Logger:       appLogger.Component("orchestrator"),
		Registry:     jobs,
		Reconciler:   store,
		Pool:         pool,
		Prober:       backend,
		Credentials:  resolver,
		Publisher:    publisher,
		Metrics:      collector,
		DownloadRoot: cfg.Storage.DownloadDir,
		ProbeTimeout: cfg.Backend.ProbeTimeout,
		Retention: orchestrator.RetentionConfig{
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:      appLogger.Component("http"),
		Jobs:        orch,
		Credentials: resolver,
		DB:          dbClient,
		Pool:        pool,
		Counter:     jobs,
		ServiceName: cfg.App.Name,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, collector.Handler())

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("Starting HTTP server",
			slog.String("address", addr),
			slog.Int("pool_size", cfg.Pool.Size),
			slog.String("download_dir", orch.DownloadRoot()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down server...")
	case err := <-serveErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		runErr = err
	}

	// Graceful shutdown: stop taking requests, then let running jobs finish
	httpCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	poolCtx, cancelPool := context.WithTimeout(context.Background(), cfg.Pool.ShutdownTimeout)
	defer cancelPool()
	if err := orch.Stop(poolCtx); err != nil {
		appLogger.Warn("Workers did not finish before the shutdown deadline; their jobs will be reconciled on next start",
			slog.Any("error", err),
		)
	}

	appLogger.Info("Server shutdown complete")
	return runErr
}

// initPublisher connects to RabbitMQ when enabled. The returned func drains
// and closes the publisher.
func initPublisher(cfg *config.RabbitMQConfig, logger *slog.Logger) (events.Publisher, func(), error) {
	if !cfg.Enabled {
		return events.Noop{}, func() {}, nil
	}

	rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueBindingKey:    cfg.Queue.BindingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	publisher := events.NewBrokerPublisher(rabbitClient, logger, cfg.BufferSize)
	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), publisherDrainTimeout)
		defer cancel()
		if err := publisher.Close(ctx); err != nil {
			logger.Warn("Event publisher did not drain", slog.Any("error", err))
		}
		rabbitClient.Close()
	}
	return publisher, closeFn, nil
}
