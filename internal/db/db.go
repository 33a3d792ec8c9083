package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"glucose-monitor/internal/model"
)

// DefaultRecentLimit is used by RecentReadings when limit <= 0.
const DefaultRecentLimit = 10

// DefaultTimeout bounds a single storage call when Options.Timeout is unset.
const DefaultTimeout = 5 * time.Second

// Store is the storage contract shared by the ORM and plain SQL backends.
// Each call opens its own transaction or pooled connection scope and is safe
// for concurrent use.
type Store interface {
	// Initialize creates the patients and readings tables if absent.
	Initialize(ctx context.Context) error
	// AddPatient inserts p. A duplicate id is not an error: it reports
	// created=false and leaves the existing row untouched.
	AddPatient(ctx context.Context, p model.Patient) (created bool, err error)
	// AddReading appends a reading stamped with the current wall-clock time.
	AddReading(ctx context.Context, patientID string, glucose float64) (model.Reading, error)
	// RecentReadings returns up to limit readings, newest first.
	RecentReadings(ctx context.Context, patientID string, limit int) ([]model.Reading, error)
	GetPatient(ctx context.Context, patientID string) (model.Patient, error)
	ListPatients(ctx context.Context) ([]model.Patient, error)
	CountReadings(ctx context.Context, patientID string) (int64, error)
	Close() error
}

// ErrNotFound is returned by GetPatient for an unknown id.
var ErrNotFound = errors.New("not found")

// StorageError reports a failed storage operation: unreachable medium,
// constraint violation other than a duplicate patient, or timeout.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }

func (e *StorageError) Unwrap() error { return e.Err }

// Timeout reports whether the operation hit its deadline.
func (e *StorageError) Timeout() bool { return errors.Is(e.Err, context.DeadlineExceeded) }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Driver names accepted by Open.
const (
	DriverORM = "orm"
	DriverSQL = "sql"
)

// Options configures Open.
type Options struct {
	Path    string
	Driver  string
	Timeout time.Duration
	Logger  *logrus.Entry
	// Now overrides the clock used to stamp readings. Tests only.
	Now func() time.Time
}

func (o *Options) normalize() {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	o.Logger = o.Logger.WithField("component", "store")
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Open opens the store selected by opts.Driver and initializes the schema.
func Open(ctx context.Context, opts Options) (Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, &StorageError{Op: "open", Err: errors.New("database path is empty")}
	}
	if err := ensureDir(opts.Path); err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	var (
		s   Store
		err error
	)
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverORM:
		s, err = OpenORM(opts)
	case DriverSQL:
		s, err = OpenSQL(opts)
	default:
		return nil, &StorageError{Op: "open", Err: fmt.Errorf("unknown driver %q (expected orm or sql)", opts.Driver)}
	}
	if err != nil {
		return nil, err
	}
	if err := s.Initialize(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory: %w", err)
	}
	return nil
}

func recentLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}

func logDuplicate(log *logrus.Entry, id string) {
	log.WithField("patient_id", id).Info("patient already exists (duplicate key ignored)")
}
