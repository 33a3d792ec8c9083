package glucosedb

import (
	"context"
	"time"

	"glucose-monitor/internal/model"
)

type Reading struct {
	ID           uint
	PatientID    string
	GlucoseLevel float64
	Timestamp    time.Time
}

func fromModelReading(r model.Reading) *Reading {
	return &Reading{
		ID:           r.ID,
		PatientID:    r.PatientID,
		GlucoseLevel: r.GlucoseLevel,
		Timestamp:    r.Time(),
	}
}

// AddReading appends a reading stamped now.
func (c *Client) AddReading(ctx context.Context, patientID string, glucose float64) (*Reading, error) {
	r, err := c.store.AddReading(ctx, patientID, glucose)
	if err != nil {
		return nil, err
	}
	return fromModelReading(r), nil
}

// RecentReadings returns up to limit readings, newest first. limit <= 0
// means 10.
func (c *Client) RecentReadings(ctx context.Context, patientID string, limit int) ([]*Reading, error) {
	rs, err := c.store.RecentReadings(ctx, patientID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Reading, 0, len(rs))
	for _, r := range rs {
		out = append(out, fromModelReading(r))
	}
	return out, nil
}

// CountReadings counts a patient's readings, or all readings for "".
func (c *Client) CountReadings(ctx context.Context, patientID string) (int64, error) {
	return c.store.CountReadings(ctx, patientID)
}

// Snapshot returns every patient with up to limit recent readings each.
func (c *Client) Snapshot(ctx context.Context, limit int) ([]model.PatientSnapshot, error) {
	ps, err := c.store.ListPatients(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.PatientSnapshot, 0, len(ps))
	for _, p := range ps {
		rs, err := c.store.RecentReadings(ctx, p.PatientID, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, model.NewSnapshot(p, rs))
	}
	return out, nil
}
