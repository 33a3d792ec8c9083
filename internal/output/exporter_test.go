package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucose-monitor/internal/model"
)

func snapshots() []model.PatientSnapshot {
	p1 := model.Patient{PatientID: "P1", Name: "Patient P1", Condition: "Type 2 Diabetes", ThresholdHigh: 180, ThresholdLow: 70}
	p2 := model.Patient{PatientID: "P2", Name: "Patient P2", ThresholdHigh: 160, ThresholdLow: 80}
	return []model.PatientSnapshot{
		model.NewSnapshot(p1, []model.Reading{
			{ID: 2, PatientID: "P1", GlucoseLevel: 190, Timestamp: "2024-01-01T00:00:05.000000Z"},
			{ID: 1, PatientID: "P1", GlucoseLevel: 220.55, Timestamp: "2024-01-01T00:00:00.000000Z"},
		}),
		model.NewSnapshot(p2, nil),
	}
}

func TestEncodeCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, snapshots()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per reading")
	assert.Equal(t, CSVHeader, rows[0])
	assert.Equal(t, []string{"P1", "Patient P1", "Type 2 Diabetes", "180", "70", "2", "190.0", "2024-01-01T00:00:05.000000Z"}, rows[1])
	assert.Equal(t, "220.6", rows[2][6])
}

func TestEncodeJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, snapshots()))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "P1", got[0]["patient_id"])
	readings := got[0]["readings"].([]any)
	require.Len(t, readings, 2)
	first := readings[0].(map[string]any)
	assert.Equal(t, 190.0, first["glucose_level"])
	assert.NotContains(t, first, "Patient")
	assert.Empty(t, got[1]["readings"])
}

func TestEncodeJSON_NilIsEmptyArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeJSON(&buf, nil))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWrite_ByExtension(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	for _, name := range []string{"export.json", "export.CSV"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Write(path, FormatFromPath(path), snapshots()))
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotEmpty(t, b)
	}
	assert.Equal(t, FormatCSV, FormatFromPath("x.csv"))
	assert.Equal(t, FormatJSON, FormatFromPath("x.out"))
	assert.Error(t, Write(filepath.Join(dir, "x"), "xml", nil))
}
