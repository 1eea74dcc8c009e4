package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgexport/pkg/config"
	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/logger"
)

// envPrefix is prepended to flag names to form environment variables, e.g.
// PGEXPORT_TABLE_OWNER for --table-owner.
const envPrefix = "PGEXPORT"

func addConnectionFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("dsn", "", "PostgreSQL connection string; overrides the discrete connection flags")
	fs.String("host", "localhost", "Database host")
	fs.Int("port", config.DefaultPort, "Database port")
	fs.String("user", "", "Database user")
	fs.String("password", "", "Database password")
	fs.String("dbname", "", "Database name")
	fs.String("sslmode", "prefer", "SSL mode (disable, prefer, require, verify-full)")
	fs.Int("max-connections", config.DefaultMaxConnections, "Connection pool size; also bounds parallel table exports")
	fs.Duration("connect-timeout", 10*time.Second, "Timeout for establishing a connection")
	fs.String("table-owner", "", "Role whose tables are exported; defaults to the connecting user")
	fs.Int("page-size", config.DefaultPageSize, "Rows fetched per query")
	fs.BoolP("verbose", "v", false, "Debug logging to the console, including generated queries")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "json", "Log format (json, console)")
}

func addExportFlags(fs *pflag.FlagSet) {
	fs.StringP("output-dir", "o", ".", "Directory receiving one file per table; created if missing")
	fs.BoolP("parallel", "p", false, "Export tables concurrently, one connection each")
	fs.String("compression", "none", "Output compression (none, gzip, zstd, snappy, s2, lz4)")
	fs.Int("compression-level", 0, "Compression level 1-9; 0 uses the codec default")
	fs.String("manifest", "", "Write a JSON summary of the run to this path")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address while exporting, e.g. :9090")
	fs.Bool("tracing", false, "Write OpenTelemetry spans to stderr")
	fs.Duration("progress-interval", 10*time.Second, "How often progress is logged; 0 disables periodic reports")
	fs.String("upload", "", "Mirror written files to s3://bucket/prefix or gs://bucket/prefix")
	fs.String("upload-region", "", "Region for s3:// uploads")
	fs.String("upload-credentials", "", "Credentials file for gs:// uploads")
	fs.Int("upload-concurrency", 5, "Files uploaded at once")
}

// loadSettings layers defaults, the YAML file named by --config, PGEXPORT_*
// environment variables and explicitly set flags, in that order.
func loadSettings(cmd *cobra.Command) (*config.ExportConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind flags")
	}

	cfg := config.NewExportConfig()
	if path := v.GetString("config"); path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load configuration").
				WithDetail("path", path)
		}
	}

	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	flag := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	db := &cfg.Database
	str("dsn", &db.DSN)
	str("host", &db.Host)
	num("port", &db.Port)
	str("user", &db.User)
	str("password", &db.Password)
	str("dbname", &db.Name)
	str("sslmode", &db.SSLMode)
	num("max-connections", &db.MaxConnections)
	dur("connect-timeout", &db.ConnectTimeout)

	ex := &cfg.Export
	str("table-owner", &ex.Owner)
	num("page-size", &ex.PageSize)
	str("output-dir", &ex.OutputDir)
	flag("parallel", &ex.Parallel)
	str("compression", &ex.Compression)
	num("compression-level", &ex.CompressionLevel)
	str("manifest", &ex.Manifest)

	up := &cfg.Upload
	str("upload", &up.Target)
	str("upload-region", &up.Region)
	str("upload-credentials", &up.CredentialsFile)
	num("upload-concurrency", &up.Concurrency)

	obs := &cfg.Observability
	flag("verbose", &obs.Verbose)
	str("log-level", &obs.LogLevel)
	str("log-format", &obs.LogFormat)
	str("metrics-addr", &obs.MetricsAddr)
	flag("tracing", &obs.EnableTracing)
	dur("progress-interval", &obs.ProgressInterval)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid configuration")
	}
	return cfg, nil
}

// initLogger installs the process logger described by cfg.
func initLogger(cfg *config.ExportConfig) (*zap.Logger, error) {
	obs := cfg.Observability
	lc := logger.Config{
		Level:    obs.LogLevelOrVerbose(),
		Encoding: obs.LogFormat,
	}
	if obs.Verbose {
		lc.Development = true
		lc.Encoding = "console"
	}
	if err := logger.Init(lc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}
	return logger.Get().With(zap.String("component", "pgexport-cli")), nil
}
