package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"homekeep/internal/config"
	"homekeep/internal/scheduler"
)

func checkCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(*cfgPath).Load()
			if err != nil {
				return err
			}
			sched := cfg.SweepSchedule()
			parsed, err := scheduler.ParseSchedule(sched)
			if err != nil {
				return fmt.Errorf("sweep.schedule: %w", err)
			}
			if parsed.Kind == scheduler.SpecCron {
				fmt.Fprintf(cmd.OutOrStdout(), "config ok: sweep %q (cron %q)\n", sched, parsed.Cron)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "config ok: sweep %q (every %s)\n", sched, parsed.Every)
			}
			return nil
		},
	}
}
