package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"glucose-monitor/internal/db"
	"glucose-monitor/internal/model"
)

var (
	patientName      string
	patientAge       int
	patientCondition string
	patientHigh      float64
	patientLow       float64
)

var patientCmd = &cobra.Command{
	Use:   "patient",
	Short: "Manage registered patients",
}

var patientAddCmd = &cobra.Command{
	Use:   "add <patient-id>",
	Short: "Register a patient; an existing id is left unchanged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := model.Patient{
			PatientID:     args[0],
			Name:          patientName,
			Age:           patientAge,
			Condition:     patientCondition,
			ThresholdHigh: patientHigh,
			ThresholdLow:  patientLow,
		}
		if p.Name == "" {
			p.Name = "Patient " + p.PatientID
		}
		return withStore(cmd.Context(), func(ctx context.Context, store db.Store) error {
			created, err := store.AddPatient(ctx, p)
			if err != nil {
				return err
			}
			if created {
				logrus.Infof("patient %s registered", p.PatientID)
			}
			return nil
		})
	},
}

var patientListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered patients with reading counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, store db.Store) error {
			ps, err := store.ListPatients(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tAGE\tCONDITION\tHIGH\tLOW\tREADINGS")
			for _, p := range ps {
				n, err := store.CountReadings(ctx, p.PatientID)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.0f\t%.0f\t%d\n", p.PatientID, p.Name, p.Age, p.Condition, p.ThresholdHigh, p.ThresholdLow, n)
			}
			return tw.Flush()
		})
	},
}

func init() {
	patientAddCmd.Flags().StringVar(&patientName, "name", "", "Display name (default \"Patient <id>\")")
	patientAddCmd.Flags().IntVar(&patientAge, "age", 0, "Age in years")
	patientAddCmd.Flags().StringVar(&patientCondition, "condition", "Type 2 Diabetes", "Medical condition")
	patientAddCmd.Flags().Float64Var(&patientHigh, "threshold-high", model.DefaultThresholdHigh, "High alert threshold in mg/dL")
	patientAddCmd.Flags().Float64Var(&patientLow, "threshold-low", model.DefaultThresholdLow, "Low alert threshold in mg/dL")

	patientCmd.AddCommand(patientAddCmd, patientListCmd)
}
