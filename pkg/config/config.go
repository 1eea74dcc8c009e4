// Package config provides the configuration model for pgexport.
//
// The configuration is organized into logical sections:
//   - Database: how to reach the server and size the connection pool
//   - Export: whose tables to export, where, and how
//   - Upload: optional mirroring of written files to object storage
//   - Observability: logging, metrics, tracing and progress reporting
//
// Example usage:
//
//	cfg := config.NewExportConfig()
//	cfg.Database.DSN = "postgres://alice@localhost/app"
//	cfg.Export.OutputDir = "./dump"
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// ExportConfig is the complete configuration of one pgexport invocation.
type ExportConfig struct {
	// Database connection and pool settings
	Database DatabaseConfig `yaml:"database" json:"database" mapstructure:"database"`

	// Export behavior
	Export ExportSection `yaml:"export" json:"export" mapstructure:"export"`

	// Upload of written files
	Upload UploadConfig `yaml:"upload" json:"upload" mapstructure:"upload"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability" mapstructure:"observability"`
}

// DatabaseConfig describes the PostgreSQL server and the pool built on it.
// DSN wins over the discrete fields when set.
type DatabaseConfig struct {
	// DSN is a libpq connection string or postgres:// URL
	DSN      string `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
	Host     string `yaml:"host" json:"host" mapstructure:"host"`
	Port     int    `yaml:"port" json:"port" mapstructure:"port"`
	User     string `yaml:"user" json:"user" mapstructure:"user"`
	Password string `yaml:"password" json:"-" mapstructure:"password"`
	Name     string `yaml:"name" json:"name" mapstructure:"name"`
	SSLMode  string `yaml:"ssl_mode" json:"ssl_mode" mapstructure:"ssl_mode"`
	// MaxConnections is the pool capacity and the parallel worker count
	MaxConnections int `yaml:"max_connections" json:"max_connections" mapstructure:"max_connections"`
	// ConnectTimeout bounds establishing each connection
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" mapstructure:"connect_timeout"`
	// IdleTimeout closes connections idle for longer
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout" mapstructure:"idle_timeout"`
	// HealthCheckPeriod is how often idle connections are checked
	HealthCheckPeriod time.Duration `yaml:"health_check_period" json:"health_check_period" mapstructure:"health_check_period"`
}

// ExportSection contains the settings of the export itself.
type ExportSection struct {
	// Owner is the table owner to export; empty means the connecting user
	Owner string `yaml:"owner" json:"owner" mapstructure:"owner"`
	// OutputDir receives one file per table
	OutputDir string `yaml:"output_dir" json:"output_dir" mapstructure:"output_dir"`
	// Parallel exports tables concurrently, one connection each
	Parallel bool `yaml:"parallel" json:"parallel" mapstructure:"parallel"`
	// PageSize is the number of rows fetched per query
	PageSize int `yaml:"page_size" json:"page_size" mapstructure:"page_size"`
	// Compression selects the output codec (none, gzip, zstd, snappy, s2, lz4)
	Compression string `yaml:"compression" json:"compression" mapstructure:"compression"`
	// CompressionLevel trades ratio for speed (1-9, 0 for the codec default)
	CompressionLevel int `yaml:"compression_level" json:"compression_level" mapstructure:"compression_level"`
	// Manifest, when set, is the path of a JSON run summary
	Manifest string `yaml:"manifest" json:"manifest" mapstructure:"manifest"`
}

// UploadConfig configures mirroring of exported files after a successful run.
type UploadConfig struct {
	// Target is s3://bucket/prefix or gs://bucket/prefix; empty disables upload
	Target string `yaml:"target" json:"target" mapstructure:"target"`
	// Region for S3 uploads; empty uses the SDK default chain
	Region string `yaml:"region" json:"region" mapstructure:"region"`
	// CredentialsFile for gs:// targets; empty uses application default credentials
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file" mapstructure:"credentials_file"`
	// Concurrency is the number of files uploaded at once
	Concurrency int `yaml:"concurrency" json:"concurrency" mapstructure:"concurrency"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	// LogFormat is json or console
	LogFormat string `yaml:"log_format" json:"log_format" mapstructure:"log_format"`
	// Verbose forces debug level console logging
	Verbose bool `yaml:"verbose" json:"verbose" mapstructure:"verbose"`
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090"
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	// EnableTracing activates stdout tracing
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing" mapstructure:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate" mapstructure:"tracing_sample_rate"`
	// ProgressInterval is how often progress is logged; zero disables periodic reports
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval" mapstructure:"progress_interval"`
}

// Defaults shared with the CLI flag definitions.
const (
	DefaultPageSize       = 100
	DefaultMaxConnections = 10
	DefaultPort           = 5432
)

// NewExportConfig creates a new ExportConfig with defaults.
func NewExportConfig() *ExportConfig {
	return &ExportConfig{
		Database: DatabaseConfig{
			Host:              "localhost",
			Port:              DefaultPort,
			SSLMode:           "prefer",
			MaxConnections:    DefaultMaxConnections,
			ConnectTimeout:    10 * time.Second,
			IdleTimeout:       30 * time.Minute,
			HealthCheckPeriod: 30 * time.Second,
		},
		Export: ExportSection{
			OutputDir:   ".",
			PageSize:    DefaultPageSize,
			Compression: "none",
		},
		Upload: UploadConfig{
			Concurrency: 5,
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "json",
			TracingSampleRate: 1.0,
			ProgressInterval:  10 * time.Second,
		},
	}
}

// Validate validates the configuration for correctness.
// It checks required fields and ensures values are within acceptable ranges.
func (c *ExportConfig) Validate() error {
	if c.Database.DSN == "" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required when no dsn is given")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("database port %d is out of range", c.Database.Port)
		}
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive")
	}
	if c.Database.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout cannot be negative")
	}
	if c.Export.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Export.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if c.Export.CompressionLevel < 0 || c.Export.CompressionLevel > 9 {
		return fmt.Errorf("compression_level must be between 0 and 9")
	}
	if c.Upload.Concurrency < 0 {
		return fmt.Errorf("upload concurrency cannot be negative")
	}
	if r := c.Observability.TracingSampleRate; r < 0 || r > 1 {
		return fmt.Errorf("tracing_sample_rate must be between 0 and 1")
	}
	return nil
}

// ConnString returns the connection string handed to the pool. The DSN is
// returned untouched; otherwise a postgres:// URL is assembled from the
// discrete fields.
func (d *DatabaseConfig) ConnString() string {
	if d.DSN != "" {
		return d.DSN
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   d.Host + ":" + strconv.Itoa(d.Port),
		Path:   "/" + d.Name,
	}
	switch {
	case d.User != "" && d.Password != "":
		u.User = url.UserPassword(d.User, d.Password)
	case d.User != "":
		u.User = url.User(d.User)
	}

	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.ConnectTimeout > 0 {
		secs := int(d.ConnectTimeout / time.Second)
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// IsUploadEnabled returns true if files should be mirrored after the run
func (u *UploadConfig) IsUploadEnabled() bool {
	return u.Target != ""
}

// LogLevelOrVerbose returns the effective log level.
func (o *ObservabilityConfig) LogLevelOrVerbose() string {
	if o.Verbose {
		return "debug"
	}
	return o.LogLevel
}
