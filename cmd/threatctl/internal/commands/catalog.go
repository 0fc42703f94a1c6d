package commands

import (
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/invisible-tech/threatcore/internal/detection"
)

func NewCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with pattern catalog files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <catalog.yaml>",
		Short: "Parse and validate a pattern catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := detection.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("%s: %d patterns (%s)\n", args[0], len(c.Patterns), strings.Join(c.Names(), ", "))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the built-in catalog as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(detection.DefaultCatalog()); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}
