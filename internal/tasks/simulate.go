// Package tasks wires configuration, storage, the simulation driver and the
// alert evaluator into runnable jobs shared by the CLI and the public client.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"glucose-monitor/internal/alert"
	"glucose-monitor/internal/config"
	"glucose-monitor/internal/db"
	"glucose-monitor/internal/generator"
	"glucose-monitor/internal/httpapi"
	"glucose-monitor/internal/metrics"
	"glucose-monitor/internal/model"
	"glucose-monitor/internal/simulator"
)

// Options defines overrides applied on top of the loaded config.
// Zero values leave the config untouched.
type Options struct {
	ConfigPath  string
	DBPath      string
	Driver      string
	Interval    time.Duration
	Duration    time.Duration
	NumPatients int
	Seed        uint64
	MetricsAddr string
	NoColor     bool
	NoAlerts    bool

	// Out receives reading lines. Nil means stdout.
	Out    io.Writer
	Logger *logrus.Logger
}

// LoadConfig reads opts.ConfigPath, or the defaults when it is empty, and
// applies the overrides.
func LoadConfig(opts Options) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return config.Config{}, err
		}
	}
	if opts.DBPath != "" {
		cfg.Database.Path = opts.DBPath
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if opts.Interval > 0 {
		cfg.Simulation.Interval = opts.Interval
	}
	if opts.Duration > 0 {
		cfg.Simulation.Duration = opts.Duration
	}
	if opts.NumPatients > 0 {
		cfg.Simulation.NumPatients = opts.NumPatients
		cfg.Patients = nil
	}
	if opts.Seed != 0 {
		cfg.Simulation.Seed = opts.Seed
	}
	if opts.MetricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = opts.MetricsAddr
	}
	if opts.NoColor {
		cfg.Simulation.Color = false
	}
	if opts.NoAlerts {
		cfg.Alerts.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// OpenStore opens the configured database.
func OpenStore(ctx context.Context, cfg config.Config, logger *logrus.Logger) (db.Store, error) {
	return db.Open(ctx, db.Options{
		Path:    cfg.Database.Path,
		Driver:  cfg.Database.Driver,
		Timeout: cfg.Database.Timeout,
		Logger:  entry(logger),
	})
}

// SeedPatients registers every configured patient. Existing ids are kept as
// they are.
func SeedPatients(ctx context.Context, store db.Store, patients []config.PatientConfig) (created int, err error) {
	for _, p := range patients {
		ok, err := store.AddPatient(ctx, model.Patient{
			PatientID:     p.ID,
			Name:          p.Name,
			Age:           p.Age,
			Condition:     p.Condition,
			ThresholdHigh: p.ThresholdHigh,
			ThresholdLow:  p.ThresholdLow,
		})
		if err != nil {
			return created, fmt.Errorf("seed patient %s: %w", p.ID, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// Summary is the outcome of InitAndRunSimulation.
type Summary struct {
	Results []simulator.Result
	Alerts  []alert.Alert
}

// Failed lists the patients whose workers aborted.
func (s Summary) Failed() []string {
	var ids []string
	for _, r := range s.Results {
		if r.Err != nil {
			ids = append(ids, r.PatientID)
		}
	}
	return ids
}

// InitAndRunSimulation loads config, opens storage, seeds patients and runs
// one simulation per patient alongside the alert evaluator and, when enabled,
// the metrics endpoint. It returns after every worker finished or ctx ended.
// The error is non-nil when setup failed or any worker aborted.
func InitAndRunSimulation(ctx context.Context, opts Options) (Summary, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return Summary{}, err
	}
	return RunSimulation(ctx, cfg, opts.Out, opts.Logger)
}

// RunSimulation is InitAndRunSimulation for an already loaded config.
func RunSimulation(ctx context.Context, cfg config.Config, out io.Writer, logger *logrus.Logger) (Summary, error) {
	log := entry(logger).WithField("component", "tasks")

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return Summary{}, err
	}
	defer store.Close()

	patients := cfg.ResolvedPatients()
	if len(patients) == 0 {
		return Summary{}, errors.New("no patients configured")
	}
	created, err := SeedPatients(ctx, store, patients)
	if err != nil {
		return Summary{}, err
	}
	log.Infof("registered %d new of %d patients", created, len(patients))

	var m *metrics.Metrics
	var bg sync.WaitGroup
	bgCtx, stopBG := context.WithCancel(ctx)
	defer func() {
		stopBG()
		bg.Wait()
	}()

	if cfg.Metrics.Enabled {
		m = metrics.New()
		srv, err := httpapi.Listen(cfg.Metrics.Addr, httpapi.NewRouter(m, func(ctx context.Context) error {
			_, err := store.CountReadings(ctx, "")
			return err
		}), entry(logger))
		if err != nil {
			return Summary{}, fmt.Errorf("metrics listener: %w", err)
		}
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := srv.Serve(bgCtx); err != nil {
				log.WithError(err).Error("ops server stopped")
			}
		}()
	}

	var eval *alert.Evaluator
	if cfg.Alerts.Enabled {
		sink, err := BuildSinks(cfg.Alerts, entry(logger))
		if err != nil {
			return Summary{}, err
		}
		defer sink.Close()
		eval = &alert.Evaluator{
			Store:       store,
			Sink:        sink,
			Interval:    cfg.Alerts.CheckInterval,
			Consecutive: cfg.Alerts.ConsecutiveReadings,
			CacheTTL:    cfg.Alerts.CacheTTL,
			Log:         entry(logger),
			Metrics:     m,
		}
		bg.Add(1)
		go func() {
			defer bg.Done()
			_ = eval.Run(bgCtx)
		}()
	}

	diabetic := make(map[string]bool, len(patients))
	ids := make([]string, len(patients))
	for i, p := range patients {
		ids[i] = p.ID
		diabetic[p.ID] = p.IsDiabetic()
	}

	drv := &simulator.Driver{
		Store:      store,
		Source:     generator.New(cfg.Simulation.Seed),
		Interval:   cfg.Simulation.Interval,
		MaxWorkers: cfg.Simulation.MaxWorkers,
		Diabetic:   func(id string) bool { return diabetic[id] },
		Out:        out,
		Color:      cfg.Simulation.Color,
		HighMark:   orDefault(cfg.Glucose.ThresholdHigh, model.DefaultThresholdHigh),
		LowMark:    orDefault(cfg.Glucose.ThresholdLow, model.DefaultThresholdLow),
		Log:        entry(logger).WithField("component", "simulator"),
		Metrics:    m,
	}

	log.WithFields(logrus.Fields{
		"patients": len(ids),
		"interval": cfg.Simulation.Interval,
		"duration": cfg.Simulation.Duration,
		"db":       cfg.Database.Path,
	}).Info("simulation starting")

	sum := Summary{Results: drv.RunAll(ctx, ids, cfg.Simulation.Duration)}

	stopBG()
	bg.Wait()
	if eval != nil {
		// catch breaches completed by the final readings
		checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		sum.Alerts, err = eval.CheckOnce(checkCtx)
		cancel()
		if err != nil {
			log.WithError(err).Warn("final alert check incomplete")
		}
	}

	if failed := sum.Failed(); len(failed) > 0 {
		return sum, fmt.Errorf("%d of %d workers failed: %v", len(failed), len(ids), failed)
	}
	log.Info("simulation complete")
	return sum, nil
}

// BuildSinks opens the sinks enabled in cfg. The log sink is the fallback
// when nothing else is enabled.
func BuildSinks(cfg config.AlertsConfig, log *logrus.Entry) (*alert.MultiSink, error) {
	log = log.WithField("component", "alert")
	ms := &alert.MultiSink{Log: log}
	fail := func(err error) (*alert.MultiSink, error) {
		_ = ms.Close()
		return nil, err
	}

	if cfg.File.Enabled {
		fs, err := alert.NewFileSink(cfg.File.Path, cfg.File.QueueSize, log)
		if err != nil {
			return fail(err)
		}
		ms.Sinks = append(ms.Sinks, fs)
	}
	if cfg.MQTT.Enabled {
		s, err := alert.DialMQTT(alert.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      cfg.MQTT.QoS,
		}, log)
		if err != nil {
			return fail(err)
		}
		ms.Sinks = append(ms.Sinks, s)
	}
	if cfg.Kafka.Enabled {
		w, err := alert.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return fail(err)
		}
		ms.Sinks = append(ms.Sinks, alert.NewKafkaSink(w))
	}
	if cfg.Log.Enabled || len(ms.Sinks) == 0 {
		ms.Sinks = append(ms.Sinks, alert.LogSink{Log: log})
	}
	return ms, nil
}

func entry(logger *logrus.Logger) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logrus.NewEntry(logger)
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}
