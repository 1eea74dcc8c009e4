package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/pgexport/pkg/config"
	"github.com/ajitpratap0/pgexport/pkg/json"
	"github.com/ajitpratap0/pgexport/pkg/logger"
	"github.com/ajitpratap0/pgexport/pkg/postgres"
)

func newTablesCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List the tables owned by a role",
		Long: `Tables prints the names of the tables owned by --table-owner, one per line,
in the order export would process them. Tables that search_path does not
resolve by their bare name are printed as schema.name.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			return runTables(cmd, cfg, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the names as a JSON array")
	return cmd
}

func runTables(cmd *cobra.Command, cfg *config.ExportConfig, asJSON bool) error {
	log, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	owner, err := resolveOwner(ctx, cfg, pool)
	if err != nil {
		return err
	}

	stream, err := postgres.NewTableNameStream(ctx, pool, owner, postgres.Options{
		PageSize: cfg.Export.PageSize,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	return printTables(ctx, cmd.OutOrStdout(), stream, asJSON)
}

// tableNames is the part of a TableNameStream printTables needs.
type tableNames interface {
	Advance(ctx context.Context) (bool, error)
	TakePage() postgres.Page[postgres.TableName]
}

// printTables writes names page by page as they are fetched. A table outside
// search_path is printed as schema.name, the same name its file gets.
func printTables(ctx context.Context, out io.Writer, stream tableNames, asJSON bool) error {
	enc := json.NewStreamingEncoder(out, true)
	enc.SetIndent("  ")

	for {
		for _, table := range stream.TakePage().Rows {
			name := table.String()
			if asJSON {
				if err := enc.Encode(name); err != nil {
					return err
				}
			} else if _, err := fmt.Fprintln(out, name); err != nil {
				return err
			}
		}

		more, err := stream.Advance(ctx)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}

	if asJSON {
		return enc.Close()
	}
	return nil
}
