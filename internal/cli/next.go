package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"homekeep/internal/recurrence"
)

const dateLayout = "2006-01-02"

func nextCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "next <due> <days>",
		Short: "Print the due dates that follow <due> every <days> days",
		Example: `  homekeep next 2024-01-01 7
  homekeep next 2024-01-31T09:00:00Z 30 -n 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := parseDue(args[0])
			if err != nil {
				return err
			}
			days, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("days: %w", err)
			}
			if count < 1 {
				count = 1
			}
			dateOnly := len(args[0]) == len(dateLayout)
			for i := 0; i < count; i++ {
				due, err = recurrence.Advance(due, days)
				if err != nil {
					return err
				}
				if dateOnly {
					fmt.Fprintln(cmd.OutOrStdout(), due.Format(dateLayout))
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), due.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "how many occurrences to print")
	return cmd
}

func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("due: want YYYY-MM-DD or RFC3339, got %q", s)
	}
	return t, nil
}
