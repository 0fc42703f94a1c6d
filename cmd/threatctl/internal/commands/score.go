package commands

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/invisible-tech/threatcore/internal/anomaly"
	"github.com/invisible-tech/threatcore/internal/classifier"
	"github.com/invisible-tech/threatcore/internal/detection"
	"github.com/invisible-tech/threatcore/internal/prioritizer"
	"github.com/invisible-tech/threatcore/internal/realtime"
	"github.com/invisible-tech/threatcore/internal/store"
	"github.com/invisible-tech/threatcore/internal/types"
)

type pipelineFlags struct {
	catalog        string
	classifierPath string
	anomalyPath    string
	windowCapacity int
	contextWindow  time.Duration
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.catalog, "catalog", "", "Pattern catalog YAML (default: built-in catalog)")
	cmd.Flags().StringVar(&f.classifierPath, "classifier", "", "Classifier bundle to load")
	cmd.Flags().StringVar(&f.anomalyPath, "anomaly-model", "", "Anomaly model bundle to load")
	cmd.Flags().IntVar(&f.windowCapacity, "window", 100, "Rolling window capacity")
	cmd.Flags().DurationVar(&f.contextWindow, "context-window", time.Hour, "Window for context counters")
}

// newCoordinator builds an offline pipeline from the flags.
func (f *pipelineFlags) newCoordinator(log *logrus.Logger) (*realtime.Coordinator, error) {
	var catalog *detection.Catalog
	if f.catalog != "" {
		c, err := detection.LoadCatalog(f.catalog)
		if err != nil {
			return nil, err
		}
		catalog = c
	}
	cls := classifier.New(log)
	if f.classifierPath != "" {
		if err := cls.Load(f.classifierPath); err != nil {
			return nil, err
		}
	}
	det := anomaly.New(anomaly.DefaultConfig(), log)
	if f.anomalyPath != "" {
		if err := det.Load(f.anomalyPath); err != nil {
			return nil, err
		}
	}
	return realtime.New(f.windowCapacity, det, detection.NewEngine(catalog), prioritizer.NewWithClassifier(cls, log), log), nil
}

func NewScoreCommand() *cobra.Command {
	var flags pipelineFlags

	cmd := &cobra.Command{
		Use:   "score [events.jsonl]",
		Short: "Compute insights for JSONL events offline",
		Long: `Reads one event per line (file or stdin), computes each event's context from
the events before it, and writes one insight per line.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := OptionsFromContext(cmd.Context())
			coord, err := flags.newCoordinator(opts.Log)
			if err != nil {
				return err
			}
			st := store.New(0, flags.contextWindow)

			in, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()

			out := cmd.OutOrStdout()
			return readJSONL(in, func(ev types.Event) error {
				if ev.Type == "" {
					return fmt.Errorf("event_type is required")
				}
				stored := st.Add(ev)
				insight := coord.ProcessEvent(&stored, st.Context(&stored))
				return writeJSONLine(out, insight)
			})
		},
	}
	flags.register(cmd)
	return cmd
}
