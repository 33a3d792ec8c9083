package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"glucose-monitor/internal/model"
)

// Format names accepted by Write.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// FormatFromPath picks the export format from the file extension, JSON
// unless it ends in .csv.
func FormatFromPath(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return FormatCSV
	}
	return FormatJSON
}

// Write exports snaps to path in the given format.
func Write(path, format string, snaps []model.PatientSnapshot) error {
	switch format {
	case FormatJSON:
		return WriteJSON(path, snaps)
	case FormatCSV:
		return WriteCSV(path, snaps)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

// WriteJSON writes snapshots to a JSON file with pretty formatting.
func WriteJSON(path string, snaps []model.PatientSnapshot) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := EncodeJSON(f, snaps); err != nil {
		return err
	}
	return f.Close()
}

// EncodeJSON writes snaps as an indented JSON array.
func EncodeJSON(w io.Writer, snaps []model.PatientSnapshot) error {
	if snaps == nil {
		snaps = []model.PatientSnapshot{}
	}
	b, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// WriteCSV flattens snapshots to one row per reading and writes a CSV file.
func WriteCSV(path string, snaps []model.PatientSnapshot) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := EncodeCSV(f, snaps); err != nil {
		return err
	}
	return f.Close()
}

// CSVHeader is the column order used by EncodeCSV.
var CSVHeader = []string{"patient_id", "name", "condition", "threshold_high", "threshold_low", "reading_id", "glucose_level", "timestamp"}

// EncodeCSV writes snaps as CSV. Patients without readings produce no rows.
func EncodeCSV(w io.Writer, snaps []model.PatientSnapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, s := range snaps {
		for _, r := range s.Readings {
			rec := []string{
				s.PatientID,
				s.Name,
				s.Condition,
				formatFloat(s.ThresholdHigh),
				formatFloat(s.ThresholdLow),
				strconv.FormatUint(uint64(r.ID), 10),
				strconv.FormatFloat(r.GlucoseLevel, 'f', 1, 64),
				r.Timestamp,
			}
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("write record: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

func create(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
