package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"glucose-monitor/internal/tasks"
)

var (
	interval    time.Duration
	duration    time.Duration
	numPatients int
	seed        uint64
	metricsAddr string
	noColor     bool
	noAlerts    bool
)

// runCmd executes the simulation for every configured patient
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulated glucose stream per patient",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig(tasks.Options{
			Interval:    interval,
			Duration:    duration,
			NumPatients: numPatients,
			Seed:        seed,
			MetricsAddr: metricsAddr,
			NoColor:     noColor,
			NoAlerts:    noAlerts,
		})
		if err != nil {
			return err
		}

		start := time.Now()
		sum, err := tasks.RunSimulation(ctx, cfg, cmd.OutOrStdout(), logrus.StandardLogger())
		persisted := 0
		for _, r := range sum.Results {
			persisted += r.Persisted
		}
		logrus.Infof("%d readings persisted for %d patients in %s, %d alerts in final check",
			persisted, len(sum.Results), time.Since(start).Round(time.Millisecond), len(sum.Alerts))
		return err
	},
}

func init() {
	runCmd.Flags().DurationVar(&interval, "interval", 0, "Time between readings (default from config, 5s)")
	runCmd.Flags().DurationVar(&duration, "duration", 0, "Total simulated time per patient (default from config, 60m)")
	runCmd.Flags().IntVar(&numPatients, "patients", 0, "Generate this many patients P1..Pn instead of the configured list")
	runCmd.Flags().Uint64Var(&seed, "seed", 0, "Generator seed (0 = time based)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")
	runCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable highlighting of out-of-range values")
	runCmd.Flags().BoolVar(&noAlerts, "no-alerts", false, "Disable the alert evaluator")
}
