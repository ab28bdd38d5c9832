package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/interview-atlas/atlas/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the atlas version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", version.AppName, version.Version)
			return nil
		},
	}
}
