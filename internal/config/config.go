package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// MaxPoolSize bounds pool.size
	MaxPoolSize = 64
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Pool      PoolConfig      `yaml:"pool"`
	Storage   StorageConfig   `yaml:"storage"`
	Backend   BackendConfig   `yaml:"backend"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// DatabaseConfig holds job store connection configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres

	// sqlite
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// postgres
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds the lifecycle event publisher configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	BufferSize int              `yaml:"buffer_size"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig optionally declares a queue bound to the exchange
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	BindingKey string `yaml:"binding_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// PoolConfig holds execution pool configuration
type PoolConfig struct {
	Size            int           `yaml:"size"`
	JobTimeout      time.Duration `yaml:"job_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig holds filesystem locations
type StorageConfig struct {
	DownloadDir    string `yaml:"download_dir"`
	CredentialsDir string `yaml:"credentials_dir"`
}

// BackendConfig holds extraction backend settings
type BackendConfig struct {
	YTDLPPath    string        `yaml:"ytdlp_path"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// RetentionConfig controls pruning of finished jobs
type RetentionConfig struct {
	Schedule string        `yaml:"schedule"`
	MaxAge   time.Duration `yaml:"max_age"`
}

// Default returns a configuration that runs locally without a config file
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.Port, 8080)
	setDefault(&c.Server.ReadTimeout, 15*time.Second)
	setDefault(&c.Server.IdleTimeout, 60*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 30*time.Second)

	setDefault(&c.Database.Driver, "sqlite")
	if c.Database.Driver == "sqlite" {
		setDefault(&c.Database.Path, "data/jobs.db")
		setDefault(&c.Database.BusyTimeout, 5*time.Second)
	} else {
		setDefault(&c.Database.Port, 5432)
		setDefault(&c.Database.SSLMode, "disable")
		setDefault(&c.Database.MaxOpenConns, 25)
		setDefault(&c.Database.MaxIdleConns, 5)
		setDefault(&c.Database.ConnMaxLifetime, 5*time.Minute)
	}

	setDefault(&c.RabbitMQ.Port, 5672)
	setDefault(&c.RabbitMQ.VHost, "/")
	setDefault(&c.RabbitMQ.Exchange.Name, "fetch.events")
	setDefault(&c.RabbitMQ.Exchange.Type, "topic")
	setDefault(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDefault(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDefault(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDefault(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDefault(&c.RabbitMQ.Publish.RetryInterval, 200*time.Millisecond)
	setDefault(&c.RabbitMQ.Publish.BackoffMultiplier, 2.0)
	setDefault(&c.RabbitMQ.BufferSize, 256)

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")
	setDefault(&c.Logging.Output, "stdout")

	setDefault(&c.App.Name, "fetch-service")
	setDefault(&c.App.Environment, "development")

	setDefault(&c.Pool.Size, 4)
	setDefault(&c.Pool.ShutdownTimeout, 30*time.Second)

	setDefault(&c.Storage.DownloadDir, "downloads")
	setDefault(&c.Storage.CredentialsDir, "credentials")

	setDefault(&c.Backend.YTDLPPath, "yt-dlp")
	setDefault(&c.Backend.ProbeTimeout, 2*time.Minute)

	setDefault(&c.Retention.MaxAge, 7*24*time.Hour)
}

// applyEnv overrides deployment-sensitive values from FETCH_* variables
func (c *Config) applyEnv() error {
	var errs []error

	envString("FETCH_SERVER_HOST", &c.Server.Host)
	errs = append(errs, envInt("FETCH_SERVER_PORT", &c.Server.Port))

	envString("FETCH_DB_DRIVER", &c.Database.Driver)
	envString("FETCH_DB_PATH", &c.Database.Path)
	envString("FETCH_DB_HOST", &c.Database.Host)
	errs = append(errs, envInt("FETCH_DB_PORT", &c.Database.Port))
	envString("FETCH_DB_USER", &c.Database.User)
	envString("FETCH_DB_PASSWORD", &c.Database.Password)
	envString("FETCH_DB_NAME", &c.Database.Database)

	errs = append(errs, envBool("FETCH_RABBITMQ_ENABLED", &c.RabbitMQ.Enabled))
	envString("FETCH_RABBITMQ_HOST", &c.RabbitMQ.Host)
	envString("FETCH_RABBITMQ_USER", &c.RabbitMQ.User)
	envString("FETCH_RABBITMQ_PASSWORD", &c.RabbitMQ.Password)

	envString("FETCH_LOG_LEVEL", &c.Logging.Level)
	envString("FETCH_LOG_FORMAT", &c.Logging.Format)

	errs = append(errs, envInt("FETCH_POOL_SIZE", &c.Pool.Size))
	envString("FETCH_DOWNLOAD_DIR", &c.Storage.DownloadDir)
	envString("FETCH_CREDENTIALS_DIR", &c.Storage.CredentialsDir)
	envString("FETCH_YTDLP_PATH", &c.Backend.YTDLPPath)
	envString("FETCH_RETENTION_SCHEDULE", &c.Retention.Schedule)

	return errors.Join(errs...)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(
		c.validateServer(),
		c.validateDatabase(),
		c.validateRabbitMQ(),
		c.validatePool(),
		c.validateStorage(),
		c.validateRetention(),
	)
}

func (c *Config) validateServer() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q (must be sqlite or postgres)", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Enabled {
		return nil
	}
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}
	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}
	return nil
}

func (c *Config) validatePool() error {
	if c.Pool.Size <= 0 || c.Pool.Size > MaxPoolSize {
		return fmt.Errorf("pool size must be between 1 and %d", MaxPoolSize)
	}
	if c.Pool.JobTimeout < 0 {
		return fmt.Errorf("pool job_timeout must not be negative")
	}
	if c.Pool.ShutdownTimeout <= 0 {
		return fmt.Errorf("pool shutdown_timeout must be greater than 0")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if strings.TrimSpace(c.Storage.DownloadDir) == "" {
		return fmt.Errorf("storage download_dir is required")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.Schedule == "" {
		return nil
	}
	if _, err := cron.ParseStandard(c.Retention.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule: %w", err)
	}
	if c.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention max_age must be greater than 0")
	}
	return nil
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

func envString(key string, field *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*field = v
	}
}

func envInt(key string, field *int) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*field = n
	return nil
}

func envBool(key string, field *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*field = b
	return nil
}
