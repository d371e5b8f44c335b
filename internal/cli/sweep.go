package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"homekeep/internal/app"
)

func sweepCmd(cfgPath *string) *cobra.Command {
	var homes []string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one reactivation pass and print the report",
		Long: `Run one reactivation pass against the configured store.

Completed recurring tasks whose due date is today or earlier go back to
pending. Without --home every home is swept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.SweepOnce(cmd.Context(), homes)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	cmd.Flags().StringSliceVar(&homes, "home", nil, "home id to sweep (repeatable)")
	return cmd
}
