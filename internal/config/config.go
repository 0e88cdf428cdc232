package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wb-go/wbf/zlog"

	"github.com/galhardo1999/albumcraft-pro-sub000/internal/model"
)

// Config holds the main configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Storage  Storage  `mapstructure:"storage"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Retry    Retry    `mapstructure:"retry"`
	Ingest   Ingest   `mapstructure:"ingest"`
}

// Server holds HTTP server-related configuration.
type Server struct {
	HTTPPort      string        `mapstructure:"http_port"`       // HTTP port to listen on
	MaxUploadSize int64         `mapstructure:"max_upload_size"` // multipart body limit in bytes
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`  // time given to in-flight requests and jobs
}

// Database holds database master and slave configuration.
type Database struct {
	Master DatabaseNode   `mapstructure:"master"`
	Slaves []DatabaseNode `mapstructure:"slaves"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DatabaseNode holds connection parameters for a single database node.
type DatabaseNode struct {
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Name    string `mapstructure:"name"`
	SSLMode string `mapstructure:"ssl_mode"`
}

// Storage drivers.
const (
	StorageNone  = ""
	StorageMinIO = "minio"
	StorageS3    = "s3"
)

// Storage holds configuration for the blob store.
// An empty driver disables it and photos are embedded as data URIs.
type Storage struct {
	Driver     string `mapstructure:"driver"` // "minio", "s3" or empty
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	BucketName string `mapstructure:"bucket_name"`
	UseSSL     bool   `mapstructure:"use_ssl"`
	Region     string `mapstructure:"region"`     // s3 only
	PublicURL  string `mapstructure:"public_url"` // base URL variants are served from
}

// Kafka holds configuration for the Kafka message queue.
type Kafka struct {
	Enabled         bool     `mapstructure:"enabled"`
	GroupID         string   `mapstructure:"group_id"`         // Consumer group ID
	SubmissionTopic string   `mapstructure:"submission_topic"` // batches staged in the blob store
	EventsTopic     string   `mapstructure:"events_topic"`     // terminal job events
	Brokers         []string `mapstructure:"brokers"`          // List of Kafka broker addresses
}

// Retry defines retry policy configuration.
type Retry struct {
	Attempts int           `mapstructure:"attempts"` // Number of retry attempts
	Delay    time.Duration `mapstructure:"delay"`    // Initial delay between retries
	Backoff  float64       `mapstructure:"backoff"`  // Backoff multiplier for delays
}

// Ingest holds the pipeline limits.
type Ingest struct {
	JobConcurrency         int                 `mapstructure:"job_concurrency"`  // 0 = derived from the host
	FileConcurrency        int                 `mapstructure:"file_concurrency"` // 0 = derived from the host
	EncodeWorkers          int                 `mapstructure:"encode_workers"`   // 0 = CPU count
	MaxQueueDepth          int                 `mapstructure:"max_queue_depth"`  // 0 = unbounded
	MaxFileSizeBytes       int64               `mapstructure:"max_file_size_bytes"`
	MaxMegapixels          int                 `mapstructure:"max_megapixels"`
	MemoryHeadroomFraction float64             `mapstructure:"memory_headroom_fraction"`
	MaxAttempts            int                 `mapstructure:"max_attempts"`
	EncodeTimeout          time.Duration       `mapstructure:"encode_timeout"`
	UploadTimeout          time.Duration       `mapstructure:"upload_timeout"`
	NudgeInterval          time.Duration       `mapstructure:"nudge_interval"`
	HistoryLimit           int                 `mapstructure:"history_limit"`
	Variants               []model.VariantSpec `mapstructure:"variants"`
	Watermark              Watermark           `mapstructure:"watermark"`
}

// Watermark configures the text stamped on variants that request it.
type Watermark struct {
	Text     string `mapstructure:"text"`
	FontPath string `mapstructure:"font_path"`
}

// DSN returns the PostgreSQL DSN string for connecting to this database node.
func (n DatabaseNode) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		n.User, n.Pass, n.Host, n.Port, n.Name, n.SSLMode,
	)
}

// VariantSpecs returns the configured renditions, or the defaults when none are set.
func (i Ingest) VariantSpecs() (model.VariantSpecs, error) {
	if len(i.Variants) == 0 {
		return model.DefaultVariantSpecs(), nil
	}

	return model.SpecsFromList(i.Variants)
}

// setDefaults registers the values used when neither the file nor the environment sets a key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", ":8080")
	v.SetDefault("server.max_upload_size", 512<<20)
	v.SetDefault("server.shutdown_grace", 30*time.Second)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.master.ssl_mode", "disable")

	v.SetDefault("kafka.group_id", "albumcraft-ingest")
	v.SetDefault("kafka.submission_topic", "albumcraft.ingest.submissions")
	v.SetDefault("kafka.events_topic", "albumcraft.ingest.events")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 200*time.Millisecond)
	v.SetDefault("retry.backoff", 2.0)

	v.SetDefault("ingest.max_queue_depth", 1000)
	v.SetDefault("ingest.max_file_size_bytes", 50<<20)
	v.SetDefault("ingest.max_megapixels", 50)
	v.SetDefault("ingest.memory_headroom_fraction", 0.7)
	v.SetDefault("ingest.max_attempts", 3)
	v.SetDefault("ingest.encode_timeout", 30*time.Second)
	v.SetDefault("ingest.upload_timeout", 60*time.Second)
	v.SetDefault("ingest.nudge_interval", 5*time.Second)
	v.SetDefault("ingest.history_limit", 1000)
}

// bindEnv binds environment variables to Viper keys.
func bindEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"database.master.host": "DB_HOST",
		"database.master.port": "DB_PORT",
		"database.master.user": "DB_USER",
		"database.master.pass": "DB_PASSWORD",
		"database.master.name": "DB_NAME",
		"storage.driver":       "STORAGE_DRIVER",
		"storage.access_key":   "STORAGE_ACCESS_KEY",
		"storage.secret_key":   "STORAGE_SECRET_KEY",
		"kafka.brokers":        "KAFKA_BROKERS",
	}

	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	return nil
}

// Load reads the configuration file at path, applies environment overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads the configuration from the specified file path.
// It panics if the configuration file cannot be loaded or is invalid.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		zlog.Logger.Panic().Err(err).Str("path", path).Msg("failed to load config")
	}

	return cfg
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageNone:
	case StorageMinIO:
		if c.Storage.Endpoint == "" || c.Storage.BucketName == "" {
			errs = append(errs, errors.New("storage: minio needs endpoint and bucket_name"))
		}
	case StorageS3:
		if c.Storage.BucketName == "" || c.Storage.Region == "" {
			errs = append(errs, errors.New("storage: s3 needs bucket_name and region"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka: enabled without brokers"))
	}

	in := c.Ingest
	if in.JobConcurrency < 0 || in.FileConcurrency < 0 || in.EncodeWorkers < 0 {
		errs = append(errs, errors.New("ingest: concurrency must not be negative"))
	}
	if in.MaxQueueDepth < 0 {
		errs = append(errs, errors.New("ingest: max_queue_depth must not be negative"))
	}
	if in.MaxAttempts < 1 {
		errs = append(errs, errors.New("ingest: max_attempts must be at least 1"))
	}
	if in.MemoryHeadroomFraction < 0 || in.MemoryHeadroomFraction > 1 {
		errs = append(errs, errors.New("ingest: memory_headroom_fraction must be within 0-1"))
	}
	if _, err := in.VariantSpecs(); err != nil {
		errs = append(errs, fmt.Errorf("ingest: %w", err))
	}

	return errors.Join(errs...)
}
