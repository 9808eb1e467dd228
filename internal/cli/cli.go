// Package cli wires the fetch service into a cobra command tree.
//
//	fetch-service serve              run the HTTP API and the worker pool
//	fetch-service jobs list          print stored jobs
//	fetch-service reconcile          fail jobs left unfinished by a stopped process
//	fetch-service probe <url>        print metadata or formats for a source
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cuongbtq/fetch-service/internal/config"
	"github.com/cuongbtq/fetch-service/internal/storage"
	"github.com/cuongbtq/fetch-service/shared/database"
	"github.com/cuongbtq/fetch-service/shared/logger"
)

const (
	configPathEnv     = "FETCH_SERVICE_CONFIG_PATH"
	defaultConfigPath = "configs/fetch-service/config.yaml"
)

type options struct {
	configPath string
	envFile    string
}

// BuildCLI returns the root command
func BuildCLI(version string) *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "fetch-service",
		Short:         "Asynchronous media fetch service",
		Long:          "fetch-service accepts media fetch jobs over HTTP, runs them on a bounded worker pool\nand keeps their state in a durable job store.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
			}
			if !cmd.Flags().Changed("config") {
				if p := os.Getenv(configPathEnv); p != "" {
					opts.configPath = p
				}
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file path (env "+configPathEnv+")")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	rootCmd.AddCommand(buildServeCommand(opts))
	rootCmd.AddCommand(buildJobsCommand(opts))
	rootCmd.AddCommand(buildReconcileCommand(opts))
	rootCmd.AddCommand(buildProbeCommand(opts))

	return rootCmd
}

// loadConfig reads and validates the config file
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   time.RFC3339,
	})
}

// initDatabase opens the job database
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	return database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		BusyTimeout:     cfg.BusyTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// openStore opens the database and migrates the job table. The caller closes
// the returned client.
func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, *storage.Store, error) {
	dbClient, err := initDatabase(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store, err := storage.NewStore(ctx, dbClient.GetDB(), logger)
	if err != nil {
		dbClient.Close()
		return nil, nil, fmt.Errorf("failed to initialize job store: %w", err)
	}
	return dbClient, store, nil
}
