package main

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/invisible-tech/threatcore/cmd/threatctl/internal/commands"
	"github.com/invisible-tech/threatcore/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "threatctl",
		Short: "Operator CLI for threatcore",
		Long: `threatctl scores, correlates and trains on security events offline, validates
pattern catalogs, and submits events to a running threatcore service.`,
		SilenceUsage: true,
	}

	defaults := config.DefaultClientConfig()
	var endpoint string
	var timeout time.Duration
	var logLevel string

	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", defaults.Endpoint, "threatcore service URL (default: $THREATCORE_ENDPOINT)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", defaults.Timeout, "Request timeout for service calls")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warning", "Log level (debug, info, warning, error)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		log := logrus.New()
		log.SetOutput(os.Stderr)
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		cmd.SetContext(commands.WithOptions(cmd.Context(), commands.Options{
			Endpoint: endpoint,
			Timeout:  timeout,
			Log:      log,
		}))
		return nil
	}

	rootCmd.AddCommand(commands.NewScoreCommand())
	rootCmd.AddCommand(commands.NewTrainCommand())
	rootCmd.AddCommand(commands.NewCorrelateCommand())
	rootCmd.AddCommand(commands.NewCatalogCommand())
	rootCmd.AddCommand(commands.NewSubmitCommand())
	rootCmd.AddCommand(commands.NewAnalyzeCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
