// Package metrics exposes Prometheus collectors for the simulator.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "glucose"

type Metrics struct {
	registry *prometheus.Registry

	ReadingsTotal      *prometheus.CounterVec
	StorageErrorsTotal *prometheus.CounterVec
	WorkersFailedTotal prometheus.Counter
	AlertsTotal        *prometheus.CounterVec
	LastGlucose        *prometheus.GaugeVec
}

// New builds a Metrics bound to its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ReadingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_persisted_total",
			Help:      "Readings written to storage.",
		}, []string{"patient_id"}),
		StorageErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_errors_total",
			Help:      "Failed storage writes, including ones recovered by retry.",
		}, []string{"patient_id"}),
		WorkersFailedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_failed_total",
			Help:      "Patient simulations aborted after a storage failure.",
		}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Threshold alerts raised, one per breach episode.",
		}, []string{"patient_id", "direction"}),
		LastGlucose: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reading_mg_dl",
			Help:      "Most recent persisted glucose level.",
		}, []string{"patient_id"}),
	}
	m.registry.MustRegister(
		m.ReadingsTotal,
		m.StorageErrorsTotal,
		m.WorkersFailedTotal,
		m.AlertsTotal,
		m.LastGlucose,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveReading(patientID string, glucose float64) {
	if m == nil {
		return
	}
	m.ReadingsTotal.WithLabelValues(patientID).Inc()
	m.LastGlucose.WithLabelValues(patientID).Set(glucose)
}

func (m *Metrics) StorageError(patientID string) {
	if m == nil {
		return
	}
	m.StorageErrorsTotal.WithLabelValues(patientID).Inc()
}

func (m *Metrics) WorkerFailed() {
	if m == nil {
		return
	}
	m.WorkersFailedTotal.Inc()
}

func (m *Metrics) Alert(patientID, direction string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(patientID, direction).Inc()
}
