package commands

import (
	"github.com/spf13/cobra"

	"github.com/invisible-tech/threatcore/internal/correlate"
	"github.com/invisible-tech/threatcore/internal/types"
)

func NewCorrelateCommand() *cobra.Command {
	th := correlate.DefaultThresholds()

	cmd := &cobra.Command{
		Use:   "correlate [events.jsonl]",
		Short: "Group JSONL events into correlations",
		Long: `Runs one correlation pass over the events. Events with a created_at older
than --window are ignored; events without one are always included.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := OptionsFromContext(cmd.Context())
			events, err := collectJSONL[types.Event](cmd, args)
			if err != nil {
				return err
			}
			corrs := correlate.New(th, opts.Log).Correlate(events)
			return writeJSONIndent(cmd.OutOrStdout(), corrs)
		},
	}
	cmd.Flags().DurationVar(&th.Window, "window", th.Window, "Correlation window")
	cmd.Flags().IntVar(&th.SourceIPMinEvents, "source-ip-min-events", th.SourceIPMinEvents, "Events per source IP before it is examined")
	cmd.Flags().IntVar(&th.BruteForceMinFailures, "brute-force-min-failures", th.BruteForceMinFailures, "Login failures for a brute force correlation")
	cmd.Flags().IntVar(&th.SuspiciousMinTypes, "suspicious-min-types", th.SuspiciousMinTypes, "Distinct event types for suspicious activity")
	cmd.Flags().IntVar(&th.UserMinEvents, "user-min-events", th.UserMinEvents, "Events per user before it is examined")
	cmd.Flags().IntVar(&th.UserMinSourceIPs, "user-min-source-ips", th.UserMinSourceIPs, "Distinct source IPs for account compromise")
	cmd.Flags().IntVar(&th.FloodMinEvents, "flood-min-events", th.FloodMinEvents, "Events of one type for an event flood")
	return cmd
}
