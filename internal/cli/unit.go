package cli

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"homekeep/pkg/systemd"
)

func unitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "unit",
		Short: "Show the systemd unit status of the service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			st, err := systemd.Status(ctx, name)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	cmd.Flags().StringVar(&name, "name", "homekeep", "unit name")
	return cmd
}
