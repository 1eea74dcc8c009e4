package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pgexport/pkg/config"
	"github.com/ajitpratap0/pgexport/pkg/errors"
	"github.com/ajitpratap0/pgexport/pkg/export"
	"github.com/ajitpratap0/pgexport/pkg/logger"
)

func newVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <manifest>",
		Short: "Check exported files against a run manifest",
		Long: `Verify reads a manifest written by export --manifest and re-reads every file
it lists, decompressing as needed, to check the row count of each table.
No database connection is made.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			return runVerify(cmd, cfg, args[0])
		},
	}
}

func runVerify(cmd *cobra.Command, cfg *config.ExportConfig, path string) error {
	log, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	summary, err := export.ReadManifest(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := export.Verify(ctx, summary); err != nil {
		log.Error("verification failed",
			zap.String("manifest", path),
			zap.Any("details", errors.DetailsOf(err)),
			zap.Error(err))
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Verified %d tables (%d rows) from %s\n", len(summary.Tables), summary.Rows, path)
	return nil
}
