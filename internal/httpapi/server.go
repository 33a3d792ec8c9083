// Package httpapi serves the operational endpoints of a running simulation.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"glucose-monitor/internal/metrics"
)

// HealthFunc reports readiness. A nil error means healthy.
type HealthFunc func(ctx context.Context) error

// NewRouter mounts /metrics and /healthz.
func NewRouter(m *metrics.Metrics, health HealthFunc) *mux.Router {
	r := mux.NewRouter()
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", healthHandler(health)).Methods(http.MethodGet)
	return r
}

func healthHandler(health HealthFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		var detail string
		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				status, code, detail = "unavailable", http.StatusServiceUnavailable, err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status, "error": detail})
	}
}

// Server runs the router until its context ends.
type Server struct {
	srv *http.Server
	ln  net.Listener
	log *logrus.Entry
}

// Listen binds addr. Use ":0" for an ephemeral port.
func Listen(addr string, h http.Handler, log *logrus.Entry) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		srv: &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second},
		ln:  ln,
		log: log.WithField("component", "http"),
	}, nil
}

// Addr is the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.Addr()).Info("ops server listening")
		errCh <- s.srv.Serve(s.ln)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
