package main

import (
	"fmt"

	"github.com/sarchlab/softmmu/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		listEnv, _ := cmd.Flags().GetBool("env")
		if listEnv {
			for _, name := range config.EnvNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}

			return nil
		}

		return cfg.WriteYAML(cmd.OutOrStdout())
	},
}

func init() {
	configCmd.Flags().Bool("env", false,
		"list the environment variables that override the configuration")
	rootCmd.AddCommand(configCmd)
}
