package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	nextTimeZone string
	nextGroup    string
	nextCount    int
	nextFrom     string
)

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "List upcoming occurrences of a group",
	Long: `Print the next occurrences of a group's schedule in its time zone.

Examples:
  batchflow next --tz Asia/Tokyo --group prices
  batchflow next --tz Asia/Tokyo --group prices --count 10 --from 2024-03-15T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: runNext,
}

func init() {
	rootCmd.AddCommand(nextCmd)
	nextCmd.Flags().StringVar(&nextTimeZone, "tz", "", "Time zone of the group (required)")
	nextCmd.Flags().StringVar(&nextGroup, "group", "", "Group name (required)")
	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "Number of occurrences")
	nextCmd.Flags().StringVar(&nextFrom, "from", "", "RFC3339 start time (default now)")
	_ = nextCmd.MarkFlagRequired("tz")
	_ = nextCmd.MarkFlagRequired("group")
}

func runNext(cmd *cobra.Command, _ []string) error {
	if nextCount <= 0 {
		return errors.New("--count must be positive")
	}
	from := time.Now()
	if nextFrom != "" {
		t, err := time.Parse(time.RFC3339, nextFrom)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		from = t
	}

	l, err := load()
	if err != nil {
		return err
	}
	g, err := l.catalog.Group(cmd.Context(), nextGroup, nextTimeZone)
	if err != nil {
		return err
	}

	t := from.In(g.Location()).Truncate(time.Minute)
	for range nextCount {
		next, ok := g.Schedule.NextScheduledTime(t)
		if !ok {
			break
		}
		fmt.Fprintln(cmd.OutOrStdout(), next.Format(time.RFC3339))
		t = next.Add(time.Minute)
	}
	return nil
}
