package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"watchflow/internal/version"
)

const (
	defaultConfigPath = "watchflow.yaml"
	configEnv         = "WATCHFLOW_CONFIG"
)

type rootFlags struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "watchflow",
		Short:         "Run actions, commands, notifications and workflows on file changes",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.GetVersionInfo().Version,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd, flags)
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigFromEnv(), "path to the YAML configuration")

	root.AddCommand(newRunCommand(flags))
	root.AddCommand(newValidateCommand(flags))
	root.AddCommand(newVersionCommand())
	return root
}

func defaultConfigFromEnv() string {
	if value := strings.TrimSpace(os.Getenv(configEnv)); value != "" {
		return value
	}
	return defaultConfigPath
}
