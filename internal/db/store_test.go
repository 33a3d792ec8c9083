package db

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucose-monitor/internal/model"
)

var drivers = []string{DriverORM, DriverSQL}

func openTestStore(t *testing.T, driver string, opts ...func(*Options)) Store {
	t.Helper()
	logger, _ := test.NewNullLogger()
	o := Options{
		Path:   filepath.Join(t.TempDir(), "data", "health_test.db"),
		Driver: driver,
		Logger: logrus.NewEntry(logger),
	}
	for _, fn := range opts {
		fn(&o)
	}
	s, err := Open(context.Background(), o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachDriver(t *testing.T, fn func(t *testing.T, driver string)) {
	for _, d := range drivers {
		t.Run(d, func(t *testing.T) {
			t.Parallel()
			fn(t, d)
		})
	}
}

func testPatient(id string) model.Patient {
	return model.Patient{PatientID: id, Name: "Test", Age: 50, Condition: "Type 2 Diabetes"}
}

func TestEndToEndScenario(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		s := openTestStore(t, driver)

		created, err := s.AddPatient(ctx, testPatient("P1"))
		require.NoError(t, err)
		assert.True(t, created)

		for _, v := range []float64{120, 190, 220} {
			_, err := s.AddReading(ctx, "P1", v)
			require.NoError(t, err)
		}

		got, err := s.RecentReadings(ctx, "P1", 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []float64{220, 190, 120}, levels(got))
	})
}

func TestRoundTripReading(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		s := openTestStore(t, driver)
		_, err := s.AddPatient(ctx, testPatient("P1"))
		require.NoError(t, err)

		before := time.Now().UTC().Truncate(time.Microsecond)
		_, err = s.AddReading(ctx, "P1", 143.7)
		require.NoError(t, err)

		got, err := s.RecentReadings(ctx, "P1", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.InDelta(t, 143.7, got[0].GlucoseLevel, 0.05)
		assert.Equal(t, "P1", got[0].PatientID)
		assert.False(t, got[0].Time().Before(before), "timestamp %s earlier than call time %s", got[0].Timestamp, before)
	})
}

func TestRecentReadingsOrderingAndLimit(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		// Same instant for every insert: ordering must fall back to insertion order.
		fixed := time.Date(2026, 1, 11, 14, 30, 0, 0, time.UTC)
		s := openTestStore(t, driver, func(o *Options) { o.Now = func() time.Time { return fixed } })
		_, err := s.AddPatient(ctx, testPatient("P1"))
		require.NoError(t, err)

		for i := 1; i <= 12; i++ {
			_, err := s.AddReading(ctx, "P1", float64(100+i))
			require.NoError(t, err)
		}

		three, err := s.RecentReadings(ctx, "P1", 3)
		require.NoError(t, err)
		assert.Equal(t, []float64{112, 111, 110}, levels(three))

		def, err := s.RecentReadings(ctx, "P1", 0)
		require.NoError(t, err)
		assert.Len(t, def, DefaultRecentLimit)
	})
}

func TestRecentReadingsUnknownPatient(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		s := openTestStore(t, driver)
		got, err := s.RecentReadings(context.Background(), "nobody", 5)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestDuplicatePatientIgnored(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		logger, hook := test.NewNullLogger()
		s := openTestStore(t, driver, func(o *Options) { o.Logger = logrus.NewEntry(logger) })

		created, err := s.AddPatient(ctx, testPatient("P1"))
		require.NoError(t, err)
		assert.True(t, created)

		dup := testPatient("P1")
		dup.Name = "Someone Else"
		created, err = s.AddPatient(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)

		patients, err := s.ListPatients(ctx)
		require.NoError(t, err)
		require.Len(t, patients, 1)
		assert.Equal(t, "Test", patients[0].Name)

		last := hook.LastEntry()
		require.NotNil(t, last)
		assert.Equal(t, logrus.InfoLevel, last.Level)
		assert.Contains(t, last.Message, "duplicate key")
	})
}

func TestPatientThresholdDefaults(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		s := openTestStore(t, driver)
		_, err := s.AddPatient(ctx, testPatient("P1"))
		require.NoError(t, err)
		custom := testPatient("P2")
		custom.ThresholdHigh, custom.ThresholdLow = 200, 60
		_, err = s.AddPatient(ctx, custom)
		require.NoError(t, err)

		p1, err := s.GetPatient(ctx, "P1")
		require.NoError(t, err)
		assert.Equal(t, 180.0, p1.ThresholdHigh)
		assert.Equal(t, 70.0, p1.ThresholdLow)

		p2, err := s.GetPatient(ctx, "P2")
		require.NoError(t, err)
		assert.Equal(t, 200.0, p2.ThresholdHigh)
		assert.Equal(t, 60.0, p2.ThresholdLow)

		_, err = s.GetPatient(ctx, "P3")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestInitializeIdempotent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		s := openTestStore(t, driver)
		_, err := s.AddPatient(ctx, testPatient("P1"))
		require.NoError(t, err)
		_, err = s.AddReading(ctx, "P1", 99.5)
		require.NoError(t, err)

		require.NoError(t, s.Initialize(ctx))
		require.NoError(t, s.Initialize(ctx))

		patients, err := s.ListPatients(ctx)
		require.NoError(t, err)
		assert.Len(t, patients, 1)
		n, err := s.CountReadings(ctx, "P1")
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})
}

func TestReopenKeepsData(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "reopen.db")
		logger, _ := test.NewNullLogger()
		opts := Options{Path: path, Driver: driver, Logger: logrus.NewEntry(logger)}

		s, err := Open(ctx, opts)
		require.NoError(t, err)
		_, err = s.AddPatient(ctx, testPatient("P1"))
		require.NoError(t, err)
		_, err = s.AddReading(ctx, "P1", 101)
		require.NoError(t, err)
		require.NoError(t, s.Close())

		s, err = Open(ctx, opts)
		require.NoError(t, err)
		defer s.Close()
		got, err := s.RecentReadings(ctx, "P1", 10)
		require.NoError(t, err)
		assert.Equal(t, []float64{101}, levels(got))
	})
}

func TestReadingRequiresExistingPatient(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		s := openTestStore(t, driver)
		_, err := s.AddReading(context.Background(), "ghost", 120)
		require.Error(t, err)
		var se *StorageError
		require.True(t, errors.As(err, &se), "want *StorageError, got %T", err)
		assert.Equal(t, "add reading", se.Op)
	})
}

func TestORMSchemaForeignKeyOnReadings(t *testing.T) {
	s, ok := openTestStore(t, DriverORM).(*ORMStore)
	require.True(t, ok)

	tableSQL := func(name string) string {
		var ddl string
		require.NoError(t, s.ORM.Raw("SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", name).Row().Scan(&ddl))
		return ddl
	}
	assert.NotContains(t, tableSQL("patients"), "FOREIGN KEY")
	readings := tableSQL("readings")
	assert.Contains(t, readings, "FOREIGN KEY")
	assert.Contains(t, readings, "patients")

	// first write after a fresh migrate
	ctx := context.Background()
	created, err := s.AddPatient(ctx, testPatient("P1"))
	require.NoError(t, err)
	assert.True(t, created)
	_, err = s.AddReading(ctx, "P1", 120)
	require.NoError(t, err)
}

func TestStorageTimeout(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		s := openTestStore(t, driver)
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()
		_, err := s.RecentReadings(ctx, "P1", 1)
		require.Error(t, err)
		var se *StorageError
		require.True(t, errors.As(err, &se))
		assert.True(t, se.Timeout())
	})
}

func TestConcurrentWriters(t *testing.T) {
	forEachDriver(t, func(t *testing.T, driver string) {
		ctx := context.Background()
		s := openTestStore(t, driver)
		const patients, perPatient = 3, 20
		for i := 1; i <= patients; i++ {
			_, err := s.AddPatient(ctx, testPatient(fmt.Sprintf("P%d", i)))
			require.NoError(t, err)
		}

		var wg sync.WaitGroup
		errs := make(chan error, patients*perPatient)
		for i := 1; i <= patients; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for j := 0; j < perPatient; j++ {
					if _, err := s.AddReading(ctx, id, float64(j)); err != nil {
						errs <- err
					}
				}
			}(fmt.Sprintf("P%d", i))
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("concurrent AddReading: %v", err)
		}

		for i := 1; i <= patients; i++ {
			id := fmt.Sprintf("P%d", i)
			n, err := s.CountReadings(ctx, id)
			require.NoError(t, err)
			assert.EqualValues(t, perPatient, n, id)

			got, err := s.RecentReadings(ctx, id, perPatient)
			require.NoError(t, err)
			for k, r := range got {
				assert.Equal(t, id, r.PatientID)
				assert.Equal(t, float64(perPatient-1-k), r.GlucoseLevel)
			}
		}
	})
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Path: filepath.Join(t.TempDir(), "x.db"), Driver: "postgres"})
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Error(), "unknown driver")
}

func levels(rs []model.Reading) []float64 {
	out := make([]float64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.GlucoseLevel)
	}
	return out
}
