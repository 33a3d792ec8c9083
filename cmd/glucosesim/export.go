package main

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"glucose-monitor/internal/db"
	"glucose-monitor/internal/model"
	"glucose-monitor/internal/output"
)

var (
	exportFormat string
	exportLimit  int
)

// exportCmd writes every patient with their recent readings to a file
var exportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export patients and recent readings to JSON or CSV",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		format := exportFormat
		if format == "" {
			format = output.FormatFromPath(path)
		}
		return withStore(cmd.Context(), func(ctx context.Context, store db.Store) error {
			ps, err := store.ListPatients(ctx)
			if err != nil {
				return err
			}
			snaps := make([]model.PatientSnapshot, 0, len(ps))
			readings := 0
			for _, p := range ps {
				rs, err := store.RecentReadings(ctx, p.PatientID, exportLimit)
				if err != nil {
					return err
				}
				readings += len(rs)
				snaps = append(snaps, model.NewSnapshot(p, rs))
			}
			if err := output.Write(path, format, snaps); err != nil {
				return err
			}
			logrus.Infof("exported %d patients, %d readings to %s", len(snaps), readings, path)
			return nil
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "json or csv (default from file extension)")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 100, "Readings per patient")
}
