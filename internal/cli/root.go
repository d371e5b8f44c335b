// Package cli holds the homekeep command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.yaml"

// NewRootCmd builds the command tree. version is printed by "version".
func NewRootCmd(version string) *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "homekeep",
		Short:         "Household chores with recurring tasks",
		Long:          "homekeep tracks household chores and puts completed recurring tasks back on the list once they are due again.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config (json or yaml)")

	root.AddCommand(
		serveCmd(&cfgPath),
		sweepCmd(&cfgPath),
		checkCmd(&cfgPath),
		nextCmd(),
		unitCmd(),
		versionCmd(version),
	)
	return root
}

func versionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
