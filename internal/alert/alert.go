// Package alert watches persisted readings and raises one alert per breach
// episode: a run of consecutive readings beyond the same threshold.
package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"glucose-monitor/internal/metrics"
	"glucose-monitor/internal/model"
	"glucose-monitor/internal/utils"
)

// Defaults applied when the matching Evaluator field is unset.
const (
	DefaultInterval    = 10 * time.Second
	DefaultConsecutive = 3
	DefaultCacheTTL    = time.Minute
	DefaultBackfill    = 100
)

// Direction is the side of the band a breach is on.
type Direction string

const (
	None Direction = ""
	High Direction = "high"
	Low  Direction = "low"
)

// Alert is raised once when a patient enters a breach episode.
type Alert struct {
	ID        uuid.UUID `json:"id"`
	PatientID string    `json:"patient_id"`
	Direction Direction `json:"direction"`
	Threshold float64   `json:"threshold"`
	// Values are the readings that triggered the alert, oldest first.
	Values   []float64 `json:"values"`
	RaisedAt time.Time `json:"raised_at"`
}

func (a Alert) String() string {
	return fmt.Sprintf("%s %s glucose: %d readings beyond %.0f mg/dL %v", a.PatientID, a.Direction, len(a.Values), a.Threshold, a.Values)
}

// Reader is the part of the storage layer the evaluator reads.
type Reader interface {
	ListPatients(ctx context.Context) ([]model.Patient, error)
	RecentReadings(ctx context.Context, patientID string, limit int) ([]model.Reading, error)
}

const rosterKey = "patients"

// Evaluator checks every patient on a ticker. Configure fields before Run;
// CheckOnce may be called directly.
//
// Every reading stored since the previous check is scanned in order, so the
// alerts raised do not depend on how often checks run.
type Evaluator struct {
	Store       Reader
	Sink        Sink
	Interval    time.Duration
	Consecutive int
	// CacheTTL is how long the patient roster is reused between checks. A
	// patient added mid-run is evaluated once the cached roster expires.
	CacheTTL time.Duration
	// Backfill bounds how much history is scanned the first time a patient
	// is evaluated.
	Backfill int
	Log      *logrus.Entry
	Metrics  *metrics.Metrics
	// Now stamps alerts. Nil means time.Now.
	Now func() time.Time

	once     sync.Once
	checking sync.Mutex
	mu       sync.Mutex
	tracks   map[string]*track
	roster   *utils.TTLCache[[]model.Patient]
}

// track is the per-patient scan state.
type track struct {
	lastID uint
	open   Direction
	runDir Direction
	run    []float64 // trailing values on runDir's side, at most Consecutive
}

func (e *Evaluator) init() {
	e.once.Do(func() {
		if e.Interval <= 0 {
			e.Interval = DefaultInterval
		}
		if e.Consecutive <= 0 {
			e.Consecutive = DefaultConsecutive
		}
		if e.CacheTTL <= 0 {
			e.CacheTTL = DefaultCacheTTL
		}
		if e.Backfill <= 0 {
			e.Backfill = DefaultBackfill
		}
		if e.Backfill < e.Consecutive {
			e.Backfill = e.Consecutive
		}
		if e.Log == nil {
			e.Log = logrus.NewEntry(logrus.StandardLogger())
		}
		e.Log = e.Log.WithField("component", "alert")
		if e.Now == nil {
			e.Now = time.Now
		}
		if e.Sink == nil {
			e.Sink = LogSink{Log: e.Log}
		}
		e.tracks = make(map[string]*track)
		e.roster = utils.NewTTLCache[[]model.Patient](e.CacheTTL)
	})
}

// Run calls CheckOnce every Interval until ctx ends. Check errors are logged
// and do not stop the loop.
func (e *Evaluator) Run(ctx context.Context) error {
	if e.Store == nil {
		return errors.New("alert: store is required")
	}
	e.init()
	t := time.NewTicker(e.Interval)
	defer t.Stop()
	e.Log.WithField("interval", e.Interval).Info("alert evaluator started")
	for {
		select {
		case <-ctx.Done():
			e.Log.Info("alert evaluator stopped")
			return nil
		case <-t.C:
			if _, err := e.CheckOnce(ctx); err != nil {
				e.Log.WithError(err).Warn("alert check incomplete")
			}
		}
	}
}

// CheckOnce evaluates every patient's new readings and delivers new alerts to
// Sink. It returns the alerts raised; a read failure for one patient does not
// skip the rest and is reported in the joined error.
func (e *Evaluator) CheckOnce(ctx context.Context) ([]Alert, error) {
	if e.Store == nil {
		return nil, errors.New("alert: store is required")
	}
	e.init()
	e.checking.Lock()
	defer e.checking.Unlock()

	patients, err := e.patients(ctx)
	if err != nil {
		return nil, err
	}

	var (
		raised []Alert
		errs   []error
	)
	for _, p := range patients {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		tr := e.track(p.PatientID)
		readings, err := e.unseen(ctx, p.PatientID, tr.lastID)
		if err != nil {
			errs = append(errs, fmt.Errorf("patient %s: %w", p.PatientID, err))
			continue
		}
		for _, a := range e.evaluate(p, tr, readings) {
			raised = append(raised, a)
			e.Metrics.Alert(a.PatientID, string(a.Direction))
			if err := e.Sink.Send(ctx, a); err != nil {
				e.Log.WithError(err).WithField("patient_id", a.PatientID).Error("alert delivery failed")
			}
		}
	}
	return raised, errors.Join(errs...)
}

// Reset forgets scan state and the cached roster.
func (e *Evaluator) Reset() {
	e.init()
	e.mu.Lock()
	e.tracks = make(map[string]*track)
	e.mu.Unlock()
	e.roster.Delete(rosterKey)
}

func (e *Evaluator) track(patientID string) *track {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, ok := e.tracks[patientID]
	if !ok {
		tr = &track{}
		e.tracks[patientID] = tr
	}
	return tr
}

func (e *Evaluator) patients(ctx context.Context) ([]model.Patient, error) {
	if ps, ok := e.roster.Get(rosterKey); ok {
		return ps, nil
	}
	ps, err := e.Store.ListPatients(ctx)
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	for i := range ps {
		ps[i].ApplyDefaults()
	}
	e.roster.Set(rosterKey, ps)
	return ps, nil
}

// unseen returns the readings with an ID above after, oldest first. A patient
// never scanned before (after == 0) gets at most Backfill readings; otherwise
// the window grows until it reaches the previous cursor.
func (e *Evaluator) unseen(ctx context.Context, patientID string, after uint) ([]model.Reading, error) {
	limit := e.Backfill
	if after > 0 {
		limit = 2 * e.Consecutive
	}
	for {
		rs, err := e.Store.RecentReadings(ctx, patientID, limit)
		if err != nil {
			return nil, err
		}
		if after == 0 || len(rs) < limit || rs[len(rs)-1].ID <= after {
			out := make([]model.Reading, 0, len(rs))
			for i := len(rs) - 1; i >= 0; i-- {
				if rs[i].ID > after {
					out = append(out, rs[i])
				}
			}
			return out, nil
		}
		limit *= 2
	}
}

// evaluate feeds readings (oldest first) through the patient's episode state.
// A reading not beyond the open episode's threshold closes it; Consecutive
// readings in a row beyond one threshold open a new episode and raise an
// alert.
func (e *Evaluator) evaluate(p model.Patient, tr *track, readings []model.Reading) []Alert {
	var out []Alert
	for _, r := range readings {
		tr.lastID = r.ID
		dir := side(r.GlucoseLevel, p.ThresholdHigh, p.ThresholdLow)
		if tr.open != None && dir != tr.open {
			e.Log.WithField("patient_id", p.PatientID).Debugf("%s episode closed", tr.open)
			tr.open = None
		}
		if dir != tr.runDir {
			tr.runDir, tr.run = dir, tr.run[:0]
		}
		if dir == None {
			continue
		}
		tr.run = append(tr.run, r.GlucoseLevel)
		if len(tr.run) > e.Consecutive {
			tr.run = tr.run[1:]
		}
		if len(tr.run) < e.Consecutive || tr.open == dir {
			continue
		}
		tr.open = dir

		threshold := p.ThresholdHigh
		if dir == Low {
			threshold = p.ThresholdLow
		}
		out = append(out, Alert{
			ID:        uuid.New(),
			PatientID: p.PatientID,
			Direction: dir,
			Threshold: threshold,
			Values:    append([]float64(nil), tr.run...),
			RaisedAt:  e.Now().UTC(),
		})
	}
	return out
}

// side reports which side of the band v is on; values equal to a threshold
// are inside.
func side(v, high, low float64) Direction {
	switch {
	case v > high:
		return High
	case v < low:
		return Low
	}
	return None
}
