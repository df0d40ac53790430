// Package cmd provides the CLI commands for printwatch.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kioskctl/printwatch/internal/config"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "printwatch",
	Short: "Hold, price and bill print jobs on a self-service kiosk",
	Long: `printwatch watches the local print spooler, pauses every new job,
prices it from its page count and color mode, and lets it print only if
the signed-in user's balance covers the cost.

Examples:
  printwatch run --config printwatch.yaml
  printwatch run --driver memory --printers "Front Desk"
  printwatch hash-password`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "printwatch.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file, then environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "printwatch version %s\n", Version)
	},
}
