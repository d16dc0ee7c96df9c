package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/sarchlab/softmmu/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFiles   []string
	cfg        config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "softmmu",
	Short: "softmmu exercises a software MMU with synthetic workloads.",
	Long: `softmmu exercises a software MMU with synthetic workloads. ` +
		`It can compare replacement policies (bench), serve live counters ` +
		`over HTTP (monitor) and print the effective configuration (config). ` +
		`Settings come from a YAML file, .env files and SOFTMMU_* variables.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"YAML configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil,
		"env files to load before reading SOFTMMU_* variables (default .env)")
}

func loadConfig(_ *cobra.Command, _ []string) error {
	c, err := config.Load(configPath, envFiles...)
	if err != nil {
		return err
	}

	logrus.SetLevel(c.Level())
	cfg = c

	return nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		os.Exit(1)
	}
}
