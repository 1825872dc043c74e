package main

import (
	"fmt"

	"github.com/busybox42/minimta/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
		Long:  "Commands for generating and validating minimta configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "generate [path]",
		Short: "Generate default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "minimta.toml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.CreateDefaultConfig(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Default configuration written to %s\n", path)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Validate configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.LoadConfig(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, warning := range cfg.Validate().Warnings {
				fmt.Fprintf(out, "WARNING: %s\n", warning.Error())
			}
			fmt.Fprintln(out, "Configuration is valid")
			return nil
		},
	})

	return configCmd
}
