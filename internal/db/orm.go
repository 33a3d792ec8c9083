package db

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"glucose-monitor/internal/model"
)

// ORMStore implements Store with GORM on top of mattn/go-sqlite3.
type ORMStore struct {
	ORM     *gorm.DB
	timeout time.Duration
	log     *logrus.Entry
	now     func() time.Time
}

// OpenORM opens the database file without touching the schema.
func OpenORM(opts Options) (*ORMStore, error) {
	opts.normalize()
	g, err := openORM(opts.Path)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	return &ORMStore{ORM: g, timeout: opts.Timeout, log: opts.Logger, now: opts.Now}, nil
}

// openORM opens a GORM SQLite connection with foreign keys, WAL and a busy
// timeout so concurrent writers wait instead of failing with SQLITE_BUSY.
func openORM(path string) (*gorm.DB, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for all models exists.
func migrateORM(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&model.Patient{}, &model.Reading{})
}

// closeORM closes the underlying SQL DB associated with the GORM connection.
func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *ORMStore) scope(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.ORM.WithContext(ctx), cancel
}

func (s *ORMStore) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return storageErr("initialize", migrateORM(ctx, s.ORM))
}

func (s *ORMStore) AddPatient(ctx context.Context, p model.Patient) (bool, error) {
	p.ApplyDefaults()
	p.Readings = nil
	db, cancel := s.scope(ctx)
	defer cancel()

	var created bool
	err := db.Transaction(func(tx *gorm.DB) error {
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "patient_id"}}, DoNothing: true}).
			Create(&p)
		if res.Error != nil {
			return res.Error
		}
		created = res.RowsAffected > 0
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

func (s *ORMStore) AddReading(ctx context.Context, patientID string, glucose float64) (model.Reading, error) {
	r := model.Reading{
		PatientID:    patientID,
		GlucoseLevel: glucose,
		Timestamp:    model.FormatTimestamp(s.now()),
	}
	db, cancel := s.scope(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(&r).Error
	})
	if err != nil {
		return model.Reading{}, storageErr("add reading", err)
	}
	return r, nil
}

func (s *ORMStore) RecentReadings(ctx context.Context, patientID string, limit int) ([]model.Reading, error) {
	db, cancel := s.scope(ctx)
	defer cancel()
	var rows []model.Reading
	err := db.Where("patient_id = ?", patientID).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(recentLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("recent readings", err)
	}
	if rows == nil {
		rows = []model.Reading{}
	}
	return rows, nil
}

func (s *ORMStore) GetPatient(ctx context.Context, patientID string) (model.Patient, error) {
	db, cancel := s.scope(ctx)
	defer cancel()
	var p model.Patient
	err := db.Where("patient_id = ?", patientID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Patient{}, ErrNotFound
	}
	if err != nil {
		return model.Patient{}, storageErr("get patient", err)
	}
	return p, nil
}

func (s *ORMStore) ListPatients(ctx context.Context) ([]model.Patient, error) {
	db, cancel := s.scope(ctx)
	defer cancel()
	var out []model.Patient
	if err := db.Order("patient_id").Find(&out).Error; err != nil {
		return nil, storageErr("list patients", err)
	}
	return out, nil
}

func (s *ORMStore) CountReadings(ctx context.Context, patientID string) (int64, error) {
	db, cancel := s.scope(ctx)
	defer cancel()
	var n int64
	q := db.Model(&model.Reading{})
	if patientID != "" {
		q = q.Where("patient_id = ?", patientID)
	}
	if err := q.Count(&n).Error; err != nil {
		return 0, storageErr("count readings", err)
	}
	return n, nil
}

func (s *ORMStore) Close() error { return closeORM(s.ORM) }
