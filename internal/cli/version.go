package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the velotrain version",
		RunE: func(command *cobra.Command, args []string) error {
			fmt.Fprintln(command.OutOrStdout(), Version)
			return nil
		},
	}
}
