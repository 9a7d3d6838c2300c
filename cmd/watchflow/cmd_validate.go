package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"watchflow/internal/config"
)

func newValidateCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and print a summary of each watch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d watches\n", flags.configPath, len(cfg.Watches))
			for _, item := range cfg.Watches {
				fmt.Fprintf(out, "  %s  %s  actions=%d commands=%d notifications=%d workflows=%d\n",
					item.ID, item.Path, len(item.Actions), len(item.Commands),
					len(item.Notifications.Items), len(item.Workflows))
			}
			return nil
		},
	}
}
