// Package config loads the simulator configuration from YAML or TOML.
// ${VAR} references are expanded from the environment before decoding.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Glucose    GlucoseConfig    `yaml:"glucose" toml:"glucose"`
	Simulation SimulationConfig `yaml:"simulation" toml:"simulation"`
	Alerts     AlertsConfig     `yaml:"alerts" toml:"alerts"`
	Patients   []PatientConfig  `yaml:"patients" toml:"patients"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

type DatabaseConfig struct {
	Path    string        `yaml:"path" toml:"path"`
	Driver  string        `yaml:"driver" toml:"driver"` // orm | sql
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

// GlucoseConfig holds the thresholds applied to patients that set none.
type GlucoseConfig struct {
	ThresholdHigh float64 `yaml:"threshold_high" toml:"threshold_high"`
	ThresholdLow  float64 `yaml:"threshold_low" toml:"threshold_low"`
}

type SimulationConfig struct {
	Interval    time.Duration `yaml:"interval" toml:"interval"`
	Duration    time.Duration `yaml:"duration" toml:"duration"`
	NumPatients int           `yaml:"num_patients" toml:"num_patients"`
	Seed        uint64        `yaml:"seed" toml:"seed"` // 0 = time based
	MaxWorkers  int           `yaml:"max_workers" toml:"max_workers"`
	Color       bool          `yaml:"color" toml:"color"`
}

type AlertsConfig struct {
	Enabled             bool          `yaml:"enabled" toml:"enabled"`
	CheckInterval       time.Duration `yaml:"check_interval" toml:"check_interval"`
	ConsecutiveReadings int           `yaml:"consecutive_readings" toml:"consecutive_readings"`
	CacheTTL            time.Duration `yaml:"cache_ttl" toml:"cache_ttl"`
	Log                 struct {
		Enabled bool `yaml:"enabled" toml:"enabled"`
	} `yaml:"log" toml:"log"`
	File  FileSinkConfig  `yaml:"file" toml:"file"`
	MQTT  MQTTSinkConfig  `yaml:"mqtt" toml:"mqtt"`
	Kafka KafkaSinkConfig `yaml:"kafka" toml:"kafka"`
}

type FileSinkConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Path      string `yaml:"path" toml:"path"`
	QueueSize int    `yaml:"queue_size" toml:"queue_size"`
}

type MQTTSinkConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Broker   string `yaml:"broker" toml:"broker"`
	Topic    string `yaml:"topic" toml:"topic"`
	ClientID string `yaml:"client_id" toml:"client_id"`
	QoS      byte   `yaml:"qos" toml:"qos"`
}

type KafkaSinkConfig struct {
	Enabled bool     `yaml:"enabled" toml:"enabled"`
	Brokers []string `yaml:"brokers" toml:"brokers"`
	Topic   string   `yaml:"topic" toml:"topic"`
}

type PatientConfig struct {
	ID        string `yaml:"id" toml:"id"`
	Name      string `yaml:"name" toml:"name"`
	Age       int    `yaml:"age" toml:"age"`
	Condition string `yaml:"condition" toml:"condition"`
	// Diabetic selects the generator range. Unset means true.
	Diabetic      *bool   `yaml:"diabetic" toml:"diabetic"`
	ThresholdHigh float64 `yaml:"threshold_high" toml:"threshold_high"`
	ThresholdLow  float64 `yaml:"threshold_low" toml:"threshold_low"`
}

// IsDiabetic reports the configured status, true when unset.
func (p PatientConfig) IsDiabetic() bool { return p.Diabetic == nil || *p.Diabetic }

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"` // text | json
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Addr    string `yaml:"addr" toml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	c := Config{
		Database: DatabaseConfig{Path: filepath.Join("data", "health_data.db"), Driver: "orm", Timeout: 5 * time.Second},
		Glucose:  GlucoseConfig{ThresholdHigh: 180, ThresholdLow: 70},
		Simulation: SimulationConfig{
			Interval:    5 * time.Second,
			Duration:    60 * time.Minute,
			NumPatients: 3,
			Color:       true,
		},
		Alerts: AlertsConfig{
			Enabled:             true,
			CheckInterval:       10 * time.Second,
			ConsecutiveReadings: 3,
			CacheTTL:            time.Minute,
			File:                FileSinkConfig{Path: filepath.Join("data", "alerts.jsonl"), QueueSize: 100},
			MQTT:                MQTTSinkConfig{Broker: "tcp://localhost:1883", Topic: "glucose/alerts", QoS: 1},
			Kafka:               KafkaSinkConfig{Topic: "glucose-alerts"},
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: ":9102"},
	}
	c.Alerts.Log.Enabled = true
	return c
}

// Load reads path, decoding TOML for a .toml extension and YAML otherwise.
// Keys absent from the file keep their Default values.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(b))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.NewDecoder(strings.NewReader(expanded)).Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRef.FindStringSubmatch(m)[1])
	})
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path is required")
	}
	switch c.Database.Driver {
	case "", "orm", "sql":
	default:
		return fmt.Errorf("database.driver %q: expected orm or sql", c.Database.Driver)
	}
	if c.Database.Timeout < 0 {
		return errors.New("database.timeout must not be negative")
	}
	if err := checkBand("glucose", c.Glucose.ThresholdHigh, c.Glucose.ThresholdLow); err != nil {
		return err
	}
	if c.Simulation.Interval <= 0 {
		return errors.New("simulation.interval must be positive")
	}
	if c.Simulation.Duration < 0 {
		return errors.New("simulation.duration must not be negative")
	}
	if c.Simulation.NumPatients < 0 {
		return errors.New("simulation.num_patients must not be negative")
	}
	if c.Simulation.MaxWorkers < 0 {
		return errors.New("simulation.max_workers must not be negative")
	}
	if c.Alerts.Enabled {
		if c.Alerts.CheckInterval <= 0 {
			return errors.New("alerts.check_interval must be positive")
		}
		if c.Alerts.ConsecutiveReadings <= 0 {
			return errors.New("alerts.consecutive_readings must be positive")
		}
		if c.Alerts.MQTT.Enabled && c.Alerts.MQTT.Broker == "" {
			return errors.New("alerts.mqtt.broker is required when mqtt is enabled")
		}
		if c.Alerts.MQTT.QoS > 2 {
			return fmt.Errorf("alerts.mqtt.qos %d: expected 0, 1 or 2", c.Alerts.MQTT.QoS)
		}
		if c.Alerts.Kafka.Enabled && len(c.Alerts.Kafka.Brokers) == 0 {
			return errors.New("alerts.kafka.brokers is required when kafka is enabled")
		}
	}
	seen := make(map[string]bool, len(c.Patients))
	for i, p := range c.Patients {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("patients[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("patients[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if err := checkBand(fmt.Sprintf("patients[%d]", i), p.ThresholdHigh, p.ThresholdLow); err != nil {
			return err
		}
	}
	for _, p := range c.ResolvedPatients() {
		if err := checkBand("patient "+p.ID, p.ThresholdHigh, p.ThresholdLow); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q: expected text or json", c.Logging.Format)
	}
	return nil
}

// checkBand allows zero for either bound, meaning inherit.
func checkBand(scope string, high, low float64) error {
	if high < 0 || low < 0 {
		return fmt.Errorf("%s thresholds must not be negative", scope)
	}
	if high > 0 && low > 0 && low >= high {
		return fmt.Errorf("%s.threshold_low (%g) must be below threshold_high (%g)", scope, low, high)
	}
	return nil
}

// ResolvedPatients returns the configured patients with thresholds inherited
// from the glucose section, or NumPatients generated ones P1..Pn when none are
// listed.
func (c *Config) ResolvedPatients() []PatientConfig {
	ps := c.Patients
	if len(ps) == 0 {
		ps = make([]PatientConfig, c.Simulation.NumPatients)
		for i := range ps {
			id := fmt.Sprintf("P%d", i+1)
			ps[i] = PatientConfig{ID: id, Name: "Patient " + id, Condition: "Type 2 Diabetes"}
		}
	} else {
		ps = append([]PatientConfig(nil), ps...)
	}
	for i := range ps {
		if ps[i].Name == "" {
			ps[i].Name = "Patient " + ps[i].ID
		}
		if ps[i].ThresholdHigh == 0 {
			ps[i].ThresholdHigh = c.Glucose.ThresholdHigh
		}
		if ps[i].ThresholdLow == 0 {
			ps[i].ThresholdLow = c.Glucose.ThresholdLow
		}
	}
	return ps
}
