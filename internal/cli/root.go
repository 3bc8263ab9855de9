// Package cli implements sessionctl, the operator tool for sweeps,
// migrations and test tokens.
package cli

import (
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-session-engine/internal/config"
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd(config.Load).Execute()
}

func newRootCmd(load func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Operate the exam session engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(newSweepCmd(load))
	cmd.AddCommand(newTokenCmd(load))
	cmd.AddCommand(newMigrateCmd(load))
	return cmd
}
