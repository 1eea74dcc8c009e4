package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/pgexport/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config <file>",
		Short: "Write the effective configuration to a YAML file",
		Long: `Config resolves defaults, --config, PGEXPORT_* variables and flags the way
export does and writes the result as YAML, ready to be passed back with
--config. The file may contain the password and is created mode 0600.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote configuration to %s\n", args[0])
			return nil
		},
	}
	addExportFlags(cmd.Flags())
	return cmd
}
