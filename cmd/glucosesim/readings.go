package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"glucose-monitor/internal/db"
)

var readingsLimit int

// readingsCmd prints a patient's most recent readings, newest first
var readingsCmd = &cobra.Command{
	Use:   "readings <patient-id>",
	Short: "Show a patient's recent readings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store db.Store) error {
			rs, err := store.RecentReadings(ctx, args[0], readingsLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Recent readings for %s:\n", args[0])
			for _, r := range rs {
				fmt.Fprintf(out, "%s: %.1f mg/dL\n", r.Timestamp, r.GlucoseLevel)
			}
			return nil
		})
	},
}

func init() {
	readingsCmd.Flags().IntVarP(&readingsLimit, "limit", "n", db.DefaultRecentLimit, "Number of readings to show")
}
