package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invisible-tech/threatcore/internal/types"
	"github.com/invisible-tech/threatcore/pkg/client"
)

func newClient(opts Options) *client.Client {
	return client.New(client.Config{Endpoint: opts.Endpoint, Timeout: opts.Timeout}, opts.Log)
}

func NewSubmitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "submit [events.jsonl]",
		Short: "Queue JSONL events on a running service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := newClient(OptionsFromContext(ctx))

			in, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()

			var firstErr error
			err = readJSONL(in, func(ev types.Event) error {
				if err := c.SubmitEvent(ctx, &ev); err != nil && firstErr == nil {
					firstErr = err
				}
				return nil
			})
			sent, failed := c.Stats()
			cmd.Printf("submitted %d, failed %d\n", sent, failed)
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d events failed: %w", failed, firstErr)
			}
			return nil
		},
	}
}

func NewAnalyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [events.jsonl]",
		Short: "Analyze JSONL events synchronously on a running service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := newClient(OptionsFromContext(ctx))

			in, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()

			out := cmd.OutOrStdout()
			return readJSONL(in, func(req types.AnalyzeRequest) error {
				insight, err := c.Analyze(ctx, &req.Event, req.Context)
				if err != nil {
					return err
				}
				return writeJSONLine(out, insight)
			})
		},
	}
}
