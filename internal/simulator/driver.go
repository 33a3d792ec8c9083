// Package simulator drives one reading stream per patient, persisting every
// generated value and printing it as it goes.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"glucose-monitor/internal/metrics"
	"glucose-monitor/internal/model"
)

// DefaultInterval is the wait between readings when Driver.Interval is unset.
const DefaultInterval = 5 * time.Second

// ReadingStore is the part of the storage layer the driver writes to.
type ReadingStore interface {
	AddReading(ctx context.Context, patientID string, glucose float64) (model.Reading, error)
}

// Source produces glucose values.
type Source interface {
	Generate(patientID string, diabetic bool) float64
}

// Driver runs patient simulations. Fields are read-only once a run starts.
type Driver struct {
	Store    ReadingStore
	Source   Source
	Interval time.Duration
	// MaxWorkers caps concurrently running patients in RunAll. Zero means
	// one goroutine per patient with no cap.
	MaxWorkers int
	// Diabetic reports a patient's status. Nil treats everyone as diabetic.
	Diabetic func(patientID string) bool

	// Out receives one line per reading. Nil means stdout.
	Out io.Writer
	// Color highlights values at or beyond HighMark/LowMark.
	Color    bool
	HighMark float64
	LowMark  float64

	Log     *logrus.Entry
	Metrics *metrics.Metrics
	// OnReading is called after each persisted reading.
	OnReading func(model.Reading)

	outMu sync.Mutex
}

// Result is the outcome of one patient's simulation.
type Result struct {
	PatientID string
	Planned   int
	Persisted int
	Canceled  bool
	Err       error
	Elapsed   time.Duration
}

// Failed reports whether the worker aborted on an error.
func (r Result) Failed() bool { return r.Err != nil }

func (d *Driver) interval() time.Duration {
	if d.Interval <= 0 {
		return DefaultInterval
	}
	return d.Interval
}

func (d *Driver) log() *logrus.Entry {
	if d.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "simulator")
	}
	return d.Log
}

func (d *Driver) isDiabetic(id string) bool {
	if d.Diabetic == nil {
		return true
	}
	return d.Diabetic(id)
}

// TotalReadings is floor(duration / interval).
func TotalReadings(duration, interval time.Duration) int {
	if duration <= 0 || interval <= 0 {
		return 0
	}
	return int(duration / interval)
}

// RunPatient generates TotalReadings(duration, Interval) readings for one
// patient, sleeping Interval between them. Cancelling ctx stops the loop at the
// next iteration boundary; readings already written stay written. A storage
// failure is retried once, then the run aborts and the error is returned.
func (d *Driver) RunPatient(ctx context.Context, patientID string, duration time.Duration) (Result, error) {
	if d.Store == nil || d.Source == nil {
		return Result{PatientID: patientID}, errors.New("simulator: store and source are required")
	}
	interval := d.interval()
	res := Result{PatientID: patientID, Planned: TotalReadings(duration, interval)}
	log := d.log().WithField("patient_id", patientID)
	start := time.Now()

	log.Infof("Starting simulation for %s", patientID)
	diabetic := d.isDiabetic(patientID)

	for i := 0; i < res.Planned; i++ {
		if ctx.Err() != nil {
			res.Canceled = true
			break
		}

		glucose := d.Source.Generate(patientID, diabetic)
		r, err := d.persist(ctx, patientID, glucose)
		if err != nil {
			res.Err = err
			d.Metrics.WorkerFailed()
			log.WithError(err).Errorf("simulation aborted after %d of %d readings", res.Persisted, res.Planned)
			break
		}
		res.Persisted++
		d.Metrics.ObserveReading(patientID, r.GlucoseLevel)
		d.printReading(patientID, r.GlucoseLevel)
		if d.OnReading != nil {
			d.OnReading(r)
		}

		if i == res.Planned-1 {
			break
		}
		if !sleep(ctx, interval) {
			res.Canceled = true
			break
		}
	}

	res.Elapsed = time.Since(start)
	if res.Canceled {
		log.Infof("simulation canceled after %d of %d readings", res.Persisted, res.Planned)
	} else if res.Err == nil {
		log.Infof("simulation finished: %d readings", res.Persisted)
	}
	return res, res.Err
}

// persist writes one reading with a single immediate retry. The write is
// detached from ctx cancellation so a stop signal never interrupts a commit
// in flight; the store's own timeout still bounds it.
func (d *Driver) persist(ctx context.Context, patientID string, glucose float64) (model.Reading, error) {
	wctx := context.WithoutCancel(ctx)
	r, err := d.Store.AddReading(wctx, patientID, glucose)
	if err == nil {
		return r, nil
	}
	d.Metrics.StorageError(patientID)
	d.log().WithField("patient_id", patientID).WithError(err).Warnf("write of %.1f mg/dL failed, retrying once", glucose)

	r, err = d.Store.AddReading(wctx, patientID, glucose)
	if err != nil {
		d.Metrics.StorageError(patientID)
		return model.Reading{}, fmt.Errorf("persist %.1f mg/dL for %s after retry: %w", glucose, patientID, err)
	}
	return r, nil
}

// sleep waits for d or ctx. It reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (d *Driver) printReading(patientID string, glucose float64) {
	out := d.Out
	if out == nil {
		out = os.Stdout
	}
	value := fmt.Sprintf("%.1f", glucose)
	if d.Color {
		switch {
		case d.HighMark > 0 && glucose > d.HighMark:
			value = color.RedString(value)
		case d.LowMark > 0 && glucose < d.LowMark:
			value = color.YellowString(value)
		}
	}
	line := fmt.Sprintf("[%s] %s: %s mg/dL\n", time.Now().Format("15:04:05"), patientID, value)

	d.outMu.Lock()
	defer d.outMu.Unlock()
	_, _ = io.WriteString(out, line)
}
