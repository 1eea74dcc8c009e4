package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgexport/pkg/compression"
	"github.com/ajitpratap0/pgexport/pkg/config"
	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/export"
	"github.com/ajitpratap0/pgexport/pkg/logger"
	"github.com/ajitpratap0/pgexport/pkg/metrics"
	"github.com/ajitpratap0/pgexport/pkg/observability"
	"github.com/ajitpratap0/pgexport/pkg/postgres"
	"github.com/ajitpratap0/pgexport/pkg/upload"
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every table owned by a role",
		Long: `Export writes <output-dir>/<table>.csv for every table owned by --table-owner.
Tables that search_path does not resolve by their bare name are written as
<schema>.<table>.csv.

Example:
  pgexport export --dsn postgres://alice@localhost/app -o ./dump --parallel`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			return runExport(cmd, cfg)
		},
	}
	addExportFlags(cmd.Flags())
	return cmd
}

func runExport(cmd *cobra.Command, cfg *config.ExportConfig) error {
	log, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	algorithm, err := compression.ParseAlgorithm(cfg.Export.Compression)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression")
	}

	var target upload.Target
	if cfg.Upload.IsUploadEnabled() {
		if target, err = upload.ParseTarget(cfg.Upload.Target); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig(version)
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		if err := observability.InitTracing(tc); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize tracing")
		}
		defer shutdown(log, "tracing", observability.Shutdown)
	}

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		srv, err := metrics.Serve(addr, log)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to serve metrics").
				WithDetail("addr", addr)
		}
		defer shutdown(log, "metrics server", srv.Shutdown)
	}

	pool, err := postgres.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	owner, err := resolveOwner(ctx, cfg, pool)
	if err != nil {
		return err
	}

	exp := export.New(pool, export.Options{
		PageSize:         cfg.Export.PageSize,
		Parallel:         cfg.Export.Parallel,
		Compression:      algorithm,
		CompressionLevel: compression.LevelFromInt(cfg.Export.CompressionLevel),
		Progress:         export.NewProgressReporter(log, cfg.Observability.ProgressInterval),
		Logger:           log,
	})

	summary, err := exp.Run(ctx, owner, cfg.Export.OutputDir)
	if err != nil {
		log.Error("export failed",
			zap.String("error_type", string(errors.TypeOf(err))),
			zap.Any("details", errors.DetailsOf(err)),
			zap.Error(err))
		return err
	}

	if path := cfg.Export.Manifest; path != "" {
		if err := export.WriteManifest(path, summary); err != nil {
			return err
		}
		log.Info("Wrote manifest", zap.String("path", path))
	}

	if cfg.Upload.IsUploadEnabled() {
		if err := uploadFiles(ctx, cfg.Upload, target, summary, log); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d tables as csv to %s\n", len(summary.Tables), summary.OutputDir)
	return nil
}

func uploadFiles(ctx context.Context, cfg config.UploadConfig, target upload.Target, summary *export.Summary, log *zap.Logger) error {
	store, err := upload.NewObjectStore(ctx, target, cfg)
	if err != nil {
		return err
	}
	uploader := upload.NewUploader(store, target, cfg.Concurrency, log)
	defer func() { _ = uploader.Close() }()

	files := make([]string, 0, len(summary.Tables))
	for _, t := range summary.Tables {
		files = append(files, t.File)
	}
	return uploader.UploadFiles(ctx, files)
}

// resolveOwner returns the configured owner or the connecting user.
func resolveOwner(ctx context.Context, cfg *config.ExportConfig, pool postgres.Pool) (string, error) {
	if cfg.Export.Owner != "" {
		return cfg.Export.Owner, nil
	}
	return postgres.CurrentUser(ctx, pool)
}

func shutdown(log *zap.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn("shutdown failed", zap.String("what", what), zap.Error(err))
	}
}
