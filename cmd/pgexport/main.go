package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pgexport",
		Short: "Export PostgreSQL tables to CSV files",
		Long: `pgexport streams every table owned by a role into one CSV file per table.
Rows are read page by page, so no table is ever held in memory, and tables
can be exported in parallel up to the connection pool size.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addConnectionFlags(root.PersistentFlags())

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pgexport v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})
	root.AddCommand(newExportCommand())
	root.AddCommand(newTablesCommand())
	root.AddCommand(newVerifyCommand())
	root.AddCommand(newConfigCommand())

	return root
}
