// Package cli wires the velotrain binary's cobra command tree: a root
// command with the serve and version subcommands hung off it.
package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the velotrain root command with its serve and
// version subcommands attached.
func NewRootCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "velotrain",
		Short: "Velodrome transponder timing and scoreboard engine",
	}

	command.AddCommand(NewServeCommand())
	command.AddCommand(NewVersionCommand())

	return command
}
