package glucosedb

import (
	"context"
	"errors"

	dbpkg "glucose-monitor/internal/db"
	"glucose-monitor/internal/model"
)

// Client exposes a stable API for third-party packages to access the DB.
type Client struct{ store dbpkg.Store }

// ErrNotFound is returned for an unknown patient id.
var ErrNotFound = dbpkg.ErrNotFound

// Open opens (and initializes) the SQLite database at path with the default
// ORM backend.
func Open(path string) (*Client, error) {
	return OpenWith(context.Background(), dbpkg.Options{Path: path})
}

// OpenWith opens the database with explicit storage options.
func OpenWith(ctx context.Context, opts dbpkg.Options) (*Client, error) {
	s, err := dbpkg.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Client{store: s}, nil
}

// Close closes the underlying DB.
func (c *Client) Close() error { return c.store.Close() }

// --------------------
// Patient DTOs and converters
// --------------------

type Patient struct {
	PatientID     string
	Name          string
	Age           int
	Condition     string
	ThresholdHigh float64
	ThresholdLow  float64
}

func toModelPatient(p *Patient) model.Patient {
	return model.Patient{
		PatientID:     p.PatientID,
		Name:          p.Name,
		Age:           p.Age,
		Condition:     p.Condition,
		ThresholdHigh: p.ThresholdHigh,
		ThresholdLow:  p.ThresholdLow,
	}
}

func fromModelPatient(p model.Patient) *Patient {
	return &Patient{
		PatientID:     p.PatientID,
		Name:          p.Name,
		Age:           p.Age,
		Condition:     p.Condition,
		ThresholdHigh: p.ThresholdHigh,
		ThresholdLow:  p.ThresholdLow,
	}
}

// --------------------
// Patient management
// --------------------

// AddPatient registers p. It reports false without error when the id exists.
func (c *Client) AddPatient(ctx context.Context, p *Patient) (bool, error) {
	if p == nil {
		return false, errors.New("patient is nil")
	}
	return c.store.AddPatient(ctx, toModelPatient(p))
}

func (c *Client) GetPatient(ctx context.Context, patientID string) (*Patient, error) {
	p, err := c.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return fromModelPatient(p), nil
}

func (c *Client) ListPatients(ctx context.Context) ([]*Patient, error) {
	ps, err := c.store.ListPatients(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Patient, 0, len(ps))
	for _, p := range ps {
		out = append(out, fromModelPatient(p))
	}
	return out, nil
}
