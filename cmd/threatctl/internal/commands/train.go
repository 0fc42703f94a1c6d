package commands

import (
	"github.com/spf13/cobra"

	"github.com/invisible-tech/threatcore/internal/anomaly"
	"github.com/invisible-tech/threatcore/internal/classifier"
	"github.com/invisible-tech/threatcore/internal/config"
	"github.com/invisible-tech/threatcore/internal/types"
)

func NewTrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train model bundles from JSONL files",
	}
	cmd.AddCommand(newTrainClassifierCommand())
	cmd.AddCommand(newTrainAnomalyCommand())
	return cmd
}

func newTrainClassifierCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "classifier [samples.jsonl]",
		Short: "Train the priority classifier on labeled samples",
		Long: `Each line is {"event": {...}, "context": {...}, "priority": "high"}.
The bundle is written to --out.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := OptionsFromContext(cmd.Context())
			samples, err := collectJSONL[types.LabeledSample](cmd, args)
			if err != nil {
				return err
			}
			cls := classifier.New(opts.Log)
			res, err := cls.Train(samples)
			if err != nil {
				return err
			}
			if err := cls.Save(outPath); err != nil {
				return err
			}
			cmd.PrintErrf("classifier written to %s\n", outPath)
			return writeJSONIndent(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", config.DefaultServiceConfig().ClassifierModelPath, "Output bundle path")
	return cmd
}

func newTrainAnomalyCommand() *cobra.Command {
	var outPath string
	var contamination float64

	cmd := &cobra.Command{
		Use:   "anomaly [observations.jsonl]",
		Short: "Fit the anomaly model on observed events",
		Long:  `Each line is {"event": {...}, "context": {...}}. The bundle is written to --out.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := OptionsFromContext(cmd.Context())
			obs, err := collectJSONL[types.Observation](cmd, args)
			if err != nil {
				return err
			}
			cfg := anomaly.DefaultConfig()
			cfg.Contamination = contamination
			det := anomaly.New(cfg, opts.Log)
			n, err := det.Update(obs)
			if err != nil {
				return err
			}
			if err := det.Save(outPath); err != nil {
				return err
			}
			cmd.PrintErrf("anomaly model written to %s\n", outPath)
			return writeJSONIndent(cmd.OutOrStdout(), map[string]interface{}{
				"samples":       n,
				"contamination": det.Contamination(),
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", config.DefaultServiceConfig().AnomalyModelPath, "Output bundle path")
	cmd.Flags().Float64Var(&contamination, "contamination", 0.1, "Expected anomaly rate in (0, 0.5]")
	return cmd
}
