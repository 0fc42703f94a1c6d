package commands

import (
	"github.com/spf13/cobra"

	"github.com/invisible-tech/threatcore/internal/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the threatctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.Version)
		},
	}
}
