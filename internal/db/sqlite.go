package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"glucose-monitor/internal/model"
)

// SQLStore implements Store with database/sql on the pure Go modernc driver.
// The connection pool hands each call its own connection.
type SQLStore struct {
	db      *sql.DB
	timeout time.Duration
	log     *logrus.Entry
	now     func() time.Time
}

// OpenSQL opens the database file without touching the schema.
func OpenSQL(opts Options) (*SQLStore, error) {
	opts.normalize()
	dsn := opts.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	d, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	if err := d.PingContext(ctx); err != nil {
		d.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}
	return &SQLStore{db: d, timeout: opts.Timeout, log: opts.Logger, now: opts.Now}, nil
}

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS patients (
		patient_id     TEXT PRIMARY KEY,
		name           TEXT NOT NULL,
		age            INTEGER,
		condition      TEXT,
		threshold_high REAL DEFAULT 180,
		threshold_low  REAL DEFAULT 70
	);

	CREATE TABLE IF NOT EXISTS readings (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id    TEXT NOT NULL,
		glucose_level REAL NOT NULL,
		timestamp     TEXT NOT NULL,
		FOREIGN KEY (patient_id) REFERENCES patients(patient_id)
	);

	CREATE INDEX IF NOT EXISTS idx_readings_patient_ts
		ON readings(patient_id, timestamp);
`

func (s *SQLStore) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, schemaSQL)
	return storageErr("initialize", err)
}

// withTx runs fn in its own transaction bounded by the store timeout.
func (s *SQLStore) withTx(ctx context.Context, fn func(context.Context, *sql.Tx) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) AddPatient(ctx context.Context, p model.Patient) (bool, error) {
	p.ApplyDefaults()
	var created bool
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO patients (patient_id, name, age, condition, threshold_high, threshold_low)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(patient_id) DO NOTHING`,
			p.PatientID, p.Name, p.Age, p.Condition, p.ThresholdHigh, p.ThresholdLow,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0
		return nil
	})
	if err != nil {
		return false, storageErr("add patient", err)
	}
	if !created {
		logDuplicate(s.log, p.PatientID)
		return false, nil
	}
	s.log.WithField("patient_id", p.PatientID).Infof("added patient: %s", p.Name)
	return true, nil
}

func (s *SQLStore) AddReading(ctx context.Context, patientID string, glucose float64) (model.Reading, error) {
	r := model.Reading{
		PatientID:    patientID,
		GlucoseLevel: glucose,
		Timestamp:    model.FormatTimestamp(s.now()),
	}
	err := s.withTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO readings (patient_id, glucose_level, timestamp) VALUES (?, ?, ?)`,
			r.PatientID, r.GlucoseLevel, r.Timestamp,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		r.ID = uint(id)
		return nil
	})
	if err != nil {
		return model.Reading{}, storageErr("add reading", err)
	}
	return r, nil
}

func (s *SQLStore) RecentReadings(ctx context.Context, patientID string, limit int) ([]model.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, glucose_level, timestamp
		FROM readings
		WHERE patient_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
		patientID, recentLimit(limit),
	)
	if err != nil {
		return nil, storageErr("recent readings", err)
	}
	defer rows.Close()

	out := []model.Reading{}
	for rows.Next() {
		var r model.Reading
		if err := rows.Scan(&r.ID, &r.PatientID, &r.GlucoseLevel, &r.Timestamp); err != nil {
			return nil, storageErr("recent readings", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("recent readings", err)
	}
	return out, nil
}

const patientColumns = `patient_id, name, COALESCE(age, 0), COALESCE(condition, ''),
	COALESCE(threshold_high, 180), COALESCE(threshold_low, 70)`

func scanPatient(sc interface{ Scan(...any) error }) (model.Patient, error) {
	var p model.Patient
	err := sc.Scan(&p.PatientID, &p.Name, &p.Age, &p.Condition, &p.ThresholdHigh, &p.ThresholdLow)
	return p, err
}

func (s *SQLStore) GetPatient(ctx context.Context, patientID string) (model.Patient, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	row := s.db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE patient_id = ?`, patientID)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Patient{}, ErrNotFound
	}
	if err != nil {
		return model.Patient{}, storageErr("get patient", err)
	}
	return p, nil
}

func (s *SQLStore) ListPatients(ctx context.Context) ([]model.Patient, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `SELECT `+patientColumns+` FROM patients ORDER BY patient_id`)
	if err != nil {
		return nil, storageErr("list patients", err)
	}
	defer rows.Close()
	var out []model.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, storageErr("list patients", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list patients", err)
	}
	return out, nil
}

func (s *SQLStore) CountReadings(ctx context.Context, patientID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	var (
		n   int64
		err error
	)
	if patientID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM readings WHERE patient_id = ?`, patientID).Scan(&n)
	}
	if err != nil {
		return 0, storageErr("count readings", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }
