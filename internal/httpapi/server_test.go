package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glucose-monitor/internal/metrics"
)

func TestHealthz(t *testing.T) {
	r := NewRouter(nil, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHealthz_Unavailable(t *testing.T) {
	r := NewRouter(nil, func(context.Context) error { return errors.New("db closed") })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db closed")
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.ObserveReading("P1", 123.4)
	m.Alert("P1", "high")

	rec := httptest.NewRecorder()
	NewRouter(m, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `glucose_readings_persisted_total{patient_id="P1"} 1`)
	assert.Contains(t, body, `glucose_last_reading_mg_dl{patient_id="P1"} 123.4`)
	assert.Contains(t, body, `glucose_alerts_raised_total{direction="high",patient_id="P1"} 1`)
}

func TestMetricsAbsentWithoutCollector(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	s, err := Listen("127.0.0.1:0", NewRouter(nil, nil), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + s.Addr() + "/healthz")
		return err == nil
	}, time.Second, 10*time.Millisecond)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
